package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefixNonces = "bridge:nonces:"

	defaultRetention = 10 * time.Minute
)

// RedisStore lets several bridge replicas share the nonce ledger of a session, so a
// message replayed against a different replica is still rejected.
// Each session owns one Redis SET; its key expires once the session goes quiet.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	retention time.Duration
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "tenant-a:" gives "tenant-a:bridge:nonces:<session>"
	KeyPrefix string
	// Retention is the idle TTL of a session's nonce set. Must exceed the max message age.
	Retention time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	logger.Sugar().Infow("Redis nonce store initialized", "address", cfg.Address, "db", cfg.DB, "retention", retention)

	return &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
		retention: retention,
	}, nil
}

// Factory returns a nonceLedger.Factory whose ledgers share this store
func (s *RedisStore) Factory() nonceLedger.Factory {
	return func(sessionID string) (nonceLedger.INonceLedger, error) {
		return s.Ledger(sessionID)
	}
}

// Ledger returns the ledger for one session
func (s *RedisStore) Ledger(sessionID string) (*RedisLedger, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nonceLedger.ErrLedgerClosed
	}

	return &RedisLedger{
		store: s,
		key:   s.keyPrefix + keyPrefixNonces + sessionID,
	}, nil
}

// HealthCheck pings Redis
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nonceLedger.ErrLedgerClosed
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis client. Idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	s.logger.Sugar().Info("Redis nonce store closed")
	return nil
}

// RedisLedger is one session's nonce SET
type RedisLedger struct {
	store  *RedisStore
	key    string
	mu     sync.RWMutex
	closed bool
}

var _ nonceLedger.INonceLedger = (*RedisLedger)(nil)

func (l *RedisLedger) usable() error {
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

func (l *RedisLedger) Contains(ctx context.Context, nonce string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.usable(); err != nil {
		return false, err
	}

	found, err := l.store.client.SIsMember(ctx, l.key, nonce).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up nonce: %w", err)
	}
	return found, nil
}

// Add relies on SADD reporting how many members were new, so two replicas racing on the
// same nonce cannot both win
func (l *RedisLedger) Add(ctx context.Context, nonce string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.usable(); err != nil {
		return false, err
	}

	pipe := l.store.client.TxPipeline()
	added := pipe.SAdd(ctx, l.key, nonce)
	pipe.Expire(ctx, l.key, l.store.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return added.Val() == 1, nil
}

func (l *RedisLedger) Len(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.usable(); err != nil {
		return 0, err
	}

	n, err := l.store.client.SCard(ctx, l.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count nonces: %w", err)
	}
	return int(n), nil
}

func (l *RedisLedger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}

	if err := l.store.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("failed to clear nonces: %w", err)
	}
	return nil
}

// Close forgets the session's nonces. The shared client stays open.
func (l *RedisLedger) Close() error {
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("failed to drop session nonces: %w", err)
	}
	return nil
}
