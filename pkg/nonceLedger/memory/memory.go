package memory

import (
	"context"
	"sync"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger"
)

// MemoryLedger is the default in-process nonce ledger. Nothing survives the process.
type MemoryLedger struct {
	mu     sync.RWMutex
	nonces map[string]struct{}
	closed bool
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		nonces: make(map[string]struct{}),
	}
}

// NewFactory returns a Factory producing an independent ledger per session
func NewFactory() nonceLedger.Factory {
	return func(string) (nonceLedger.INonceLedger, error) {
		return NewMemoryLedger(), nil
	}
}

func (m *MemoryLedger) Contains(_ context.Context, nonce string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, nonceLedger.ErrLedgerClosed
	}
	_, ok := m.nonces[nonce]
	return ok, nil
}

func (m *MemoryLedger) Add(_ context.Context, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, nonceLedger.ErrLedgerClosed
	}
	if _, ok := m.nonces[nonce]; ok {
		return false, nil
	}
	m.nonces[nonce] = struct{}{}
	return true, nil
}

func (m *MemoryLedger) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, nonceLedger.ErrLedgerClosed
	}
	return len(m.nonces), nil
}

func (m *MemoryLedger) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nonceLedger.ErrLedgerClosed
	}
	m.nonces = make(map[string]struct{})
	return nil
}

func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.nonces = nil
	return nil
}
