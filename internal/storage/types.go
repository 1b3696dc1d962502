package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one confirmed submission.
type Record struct {
	At          time.Time `json:"at"`
	ChatID      int64     `json:"chat_id"`
	RunID       string    `json:"run_id"`
	Directive   string    `json:"directive"`
	Lamports    uint64    `json:"lamports"`
	Signature   string    `json:"signature"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
}
