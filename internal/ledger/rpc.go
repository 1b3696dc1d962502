package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"sweepbot/pkg/logx"
)

// Options configures RPC.
type Options struct {
	Endpoint      string
	Commitment    rpc.CommitmentType
	CallTimeout   time.Duration
	SkipPreflight bool
	Log           logx.Logger
}

// RPC is the Client backed by a Solana JSON-RPC endpoint.
type RPC struct {
	cl            *rpc.Client
	commitment    rpc.CommitmentType
	timeout       time.Duration
	skipPreflight bool
	log           logx.Logger
}

func NewRPC(opts Options) *RPC {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	return &RPC{
		cl:            rpc.New(opts.Endpoint),
		commitment:    opts.Commitment,
		timeout:       opts.CallTimeout,
		skipPreflight: opts.SkipPreflight,
		log:           opts.Log.With(logx.String("comp", "ledger")),
	}
}

func (r *RPC) Close() error { return r.cl.Close() }

func (r *RPC) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RPC) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	res, err := r.cl.GetBalance(ctx, addr, r.commitment)
	if err != nil {
		return 0, wrap("getBalance", err)
	}
	if res == nil {
		return 0, wrap("getBalance", errEmptyResult)
	}
	return res.Value, nil
}

func (r *RPC) GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*AccountInfo, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	res, err := r.cl.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: r.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("getAccountInfo", err)
	}
	if res == nil || res.Value == nil {
		return nil, nil
	}
	acc := res.Value
	info := &AccountInfo{
		Owner:      acc.Owner,
		Lamports:   acc.Lamports,
		Executable: acc.Executable,
	}
	if acc.Data != nil {
		info.Data = acc.Data.GetBinary()
	}
	return info, nil
}

func (r *RPC) GetRecentAnchor(ctx context.Context) (solana.Hash, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	res, err := r.cl.GetLatestBlockhash(ctx, r.commitment)
	if err != nil {
		return solana.Hash{}, wrap("getLatestBlockhash", err)
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, wrap("getLatestBlockhash", errEmptyResult)
	}
	return res.Value.Blockhash, nil
}

func (r *RPC) Submit(ctx context.Context, raw []byte) (solana.Signature, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	sig, err := r.cl.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       r.skipPreflight,
		PreflightCommitment: r.commitment,
	})
	if err != nil {
		return solana.Signature{}, wrap("sendTransaction", err)
	}
	r.log.Debug("transaction submitted", logx.String("sig", sig.String()))
	return sig, nil
}

var _ Client = (*RPC)(nil)
