// Package ledger is the boundary to the Solana JSON-RPC node.
//
// Every call is bounded by a per-call timeout and every failure is returned
// as *Error so callers can branch on Kind instead of message text.
package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// AccountInfo is the subset of on-chain account metadata the sweeper needs.
type AccountInfo struct {
	Owner      solana.PublicKey
	Lamports   uint64
	Executable bool
	Data       []byte
}

// Client is implemented by RPC and by test fakes.
type Client interface {
	GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	// GetAccountInfo returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*AccountInfo, error)
	// GetRecentAnchor returns a fresh blockhash. It must be fetched for every
	// submission attempt.
	GetRecentAnchor(ctx context.Context) (solana.Hash, error)
	Submit(ctx context.Context, raw []byte) (solana.Signature, error)
}
