package nonceLedger

import (
	"context"
	"errors"
)

// MaxLedgerSize is the bound above which the ledger is cleared entirely.
// Clearing trades lifetime replay protection for bounded memory; the timestamp window
// still rejects anything older than the max message age.
const MaxLedgerSize = 1000

// ErrLedgerClosed is returned by every operation after Close
var ErrLedgerClosed = errors.New("nonce ledger is closed")

// INonceLedger records the nonces accepted under the current shared secret.
// All implementations must be thread-safe as messages are verified concurrently.
type INonceLedger interface {
	// Contains reports whether nonce was already accepted.
	Contains(ctx context.Context, nonce string) (bool, error)

	// Add records nonce. Returns false without error if it was already present, which
	// lets backends shared between processes detect a concurrent insert.
	Add(ctx context.Context, nonce string) (bool, error)

	// Len returns the number of recorded nonces.
	Len(ctx context.Context) (int, error)

	// Clear forgets every recorded nonce.
	Clear(ctx context.Context) error

	// Close releases the ledger. Idempotent.
	Close() error
}

// Factory builds the ledger for one channel session
type Factory func(sessionID string) (INonceLedger, error)
