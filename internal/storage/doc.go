// Package storage keeps an append-only audit trail of completed sweeps.
//
// Two backends exist: "file" (JSON Lines) and "sqlite". Session state is
// never persisted; a restart does not resume workers.
package storage
