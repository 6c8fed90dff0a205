package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

const (
	keyPrefixNonce = "nonce:"

	// maxConflictRetries bounds retries of optimistic transactions racing on one key
	maxConflictRetries = 16
)

// BadgerStore is a single in-memory Badger instance shared by the ledgers of every session.
// It runs with InMemory set, so nothing is written to disk and nothing survives a restart.
type BadgerStore struct {
	db        *badgerdb.DB
	logger    *zap.Logger
	retention time.Duration
	mu        sync.RWMutex
	closed    bool
}

// BadgerConfig holds the store settings
type BadgerConfig struct {
	// Retention is the TTL applied to recorded nonces. Zero keeps them until cleared.
	// Must be longer than the max message age or expired nonces become replayable.
	Retention time.Duration
}

// NewBadgerStore opens an in-memory Badger database
func NewBadgerStore(cfg *BadgerConfig, logger *zap.Logger) (*BadgerStore, error) {
	if cfg == nil {
		cfg = &BadgerConfig{}
	}

	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger database: %w", err)
	}

	logger.Sugar().Infow("Badger nonce store initialized", "retention", cfg.Retention)

	return &BadgerStore{
		db:        db,
		logger:    logger,
		retention: cfg.Retention,
	}, nil
}

// Factory returns a nonceLedger.Factory whose ledgers share this store
func (s *BadgerStore) Factory() nonceLedger.Factory {
	return func(sessionID string) (nonceLedger.INonceLedger, error) {
		return s.Ledger(sessionID)
	}
}

// Ledger returns the ledger for one session, namespaced by sessionID
func (s *BadgerStore) Ledger(sessionID string) (*BadgerLedger, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nonceLedger.ErrLedgerClosed
	}

	return &BadgerLedger{
		store:  s,
		prefix: []byte(fmt.Sprintf("%s%s:", keyPrefixNonce, sessionID)),
	}, nil
}

// Close shuts the shared database down. Idempotent.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	s.logger.Sugar().Info("Badger nonce store closed")
	return nil
}

// BadgerLedger is one session's view of a BadgerStore
type BadgerLedger struct {
	store  *BadgerStore
	prefix []byte
	mu     sync.RWMutex
	closed bool
}

var _ nonceLedger.INonceLedger = (*BadgerLedger)(nil)

func (l *BadgerLedger) key(nonce string) []byte {
	k := make([]byte, 0, len(l.prefix)+len(nonce))
	k = append(k, l.prefix...)
	return append(k, nonce...)
}

// usable reports whether both the ledger and its store are open. Callers hold l.mu.
func (l *BadgerLedger) usable() error {
	if l.closed {
		return nonceLedger.ErrLedgerClosed
	}
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	if l.store.closed {
		return nonceLedger.ErrLedgerClosed
	}
	return nil
}

func (l *BadgerLedger) Contains(_ context.Context, nonce string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.usable(); err != nil {
		return false, err
	}

	found := false
	err := l.store.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(l.key(nonce))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up nonce: %w", err)
	}
	return found, nil
}

func (l *BadgerLedger) Add(_ context.Context, nonce string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.usable(); err != nil {
		return false, err
	}

	key := l.key(nonce)
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		added := false
		err := l.store.db.Update(func(txn *badgerdb.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
			entry := badgerdb.NewEntry(key, []byte{1})
			if l.store.retention > 0 {
				entry = entry.WithTTL(l.store.retention)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			added = true
			return nil
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to record nonce: %w", err)
		}
		return added, nil
	}
	return false, fmt.Errorf("failed to record nonce: too many transaction conflicts")
}

func (l *BadgerLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.usable(); err != nil {
		return 0, err
	}

	count := 0
	err := l.store.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = l.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count nonces: %w", err)
	}
	return count, nil
}

func (l *BadgerLedger) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}

	if err := l.store.db.DropPrefix(l.prefix); err != nil {
		return fmt.Errorf("failed to clear nonces: %w", err)
	}
	return nil
}

// Close drops this session's nonces. The shared store stays open.
func (l *BadgerLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	if l.store.closed {
		return nil
	}
	if err := l.store.db.DropPrefix(l.prefix); err != nil {
		return fmt.Errorf("failed to drop session nonces: %w", err)
	}
	return nil
}
