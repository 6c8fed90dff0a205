package authenticator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/canonical"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger/memory"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"go.uber.org/zap"
)

// DefaultMaxMessageAge is how far a message timestamp may drift from the local clock,
// in either direction
const DefaultMaxMessageAge = 300000 * time.Millisecond

// ErrNoSharedSecret is returned when signing is attempted before a secret is installed
var ErrNoSharedSecret = errors.New("shared secret not established")

// Config holds the authenticator settings
type Config struct {
	// SharedSecret pre-seeds the secret. Empty leaves the authenticator unkeyed.
	SharedSecret string
	// MaxMessageAge defaults to DefaultMaxMessageAge
	MaxMessageAge time.Duration
	// Ledger defaults to an in-memory ledger
	Ledger nonceLedger.INonceLedger
	// Metrics is optional
	Metrics *metrics.Metrics
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Authenticator owns the shared secret and the nonce ledger of one channel session.
// It verifies inbound messages and signs outbound responses.
type Authenticator struct {
	// mu guards secret and makes the nonce check, MAC check and nonce insert of Verify
	// one critical section
	mu sync.Mutex

	secret        string
	maxMessageAge time.Duration
	ledger        nonceLedger.INonceLedger
	now           func() time.Time
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(cfg *Config, logger *zap.Logger) (*Authenticator, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.MaxMessageAge < 0 {
		return nil, fmt.Errorf("max message age cannot be negative")
	}

	a := &Authenticator{
		secret:        cfg.SharedSecret,
		maxMessageAge: cfg.MaxMessageAge,
		ledger:        cfg.Ledger,
		now:           cfg.Clock,
		metrics:       cfg.Metrics,
		logger:        logger,
	}
	if a.maxMessageAge == 0 {
		a.maxMessageAge = DefaultMaxMessageAge
	}
	if a.ledger == nil {
		a.ledger = memory.NewMemoryLedger()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// ComputeMAC returns the lowercase hex HMAC-SHA256 of message under secret
func ComputeMAC(message string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureFor canonicalizes v and returns its MAC under secret. v is one of the
// Signable* types.
func SignatureFor(v interface{}, secret string) (string, error) {
	msg, err := canonical.String(v)
	if err != nil {
		return "", err
	}
	return ComputeMAC(msg, secret), nil
}

// SetSecret replaces the active secret. The nonce ledger is cleared unconditionally:
// replay history of the old secret means nothing under the new one.
func (a *Authenticator) SetSecret(ctx context.Context, secret string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.secret = secret
	if err := a.ledger.Clear(ctx); err != nil {
		return fmt.Errorf("failed to reset nonce ledger: %w", err)
	}
	a.logger.Sugar().Debugw("Shared secret installed", "secret_length", len(secret))
	return nil
}

// Secret returns the active secret, empty when unkeyed
func (a *Authenticator) Secret() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.secret
}

// IsSecureMode reports whether a secret is installed. Once true every response is signed.
func (a *Authenticator) IsSecureMode() bool {
	return a.Secret() != ""
}

// MaxMessageAge returns the freshness window
func (a *Authenticator) MaxMessageAge() time.Duration {
	return a.maxMessageAge
}

// Verify authenticates msg. Every failure is reported as false; the reason is only logged.
func (a *Authenticator) Verify(ctx context.Context, msg *types.AuthenticatedMessage) bool {
	if msg == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	log := a.logger.Sugar().With("request_id", msg.RequestID, "action", msg.Action)

	if a.secret == "" {
		log.Debugw("Verification failed: no shared secret")
		return false
	}

	// Absolute difference: a producer clock running ahead must not buy a message a longer life
	drift := a.now().UnixMilli() - msg.Timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > a.maxMessageAge.Milliseconds() {
		log.Debugw("Verification failed: timestamp outside window", "drift_ms", drift)
		return false
	}

	seen, err := a.ledger.Contains(ctx, msg.Nonce)
	if err != nil {
		log.Warnw("Verification failed: nonce ledger lookup error", "error", err)
		return false
	}
	if seen {
		log.Debugw("Verification failed: nonce already used")
		return false
	}

	expected, err := SignatureFor(msg.Signable(), a.secret)
	if err != nil {
		log.Debugw("Verification failed: cannot canonicalize message", "error", err)
		return false
	}
	if !hmac.Equal([]byte(expected), []byte(msg.Signature)) {
		log.Debugw("Verification failed: signature mismatch")
		return false
	}

	added, err := a.ledger.Add(ctx, msg.Nonce)
	if err != nil {
		log.Warnw("Verification failed: nonce ledger insert error", "error", err)
		return false
	}
	if !added {
		// Another replica sharing the ledger accepted the same nonce first
		log.Debugw("Verification failed: nonce recorded concurrently")
		return false
	}

	if _, err := a.cleanupLocked(ctx); err != nil {
		log.Warnw("Nonce ledger cleanup failed", "error", err)
	}
	return true
}

// Sign stamps envelope with the local clock and signs it. It fails if no secret is
// installed; an unsigned response must never leave once secure mode has begun.
func (a *Authenticator) Sign(envelope *types.AdapterResponse) (*types.SecureResponse, error) {
	if envelope == nil {
		return nil, fmt.Errorf("cannot sign nil response")
	}

	a.mu.Lock()
	secret := a.secret
	a.mu.Unlock()

	if secret == "" {
		return nil, ErrNoSharedSecret
	}

	resp := &types.SecureResponse{
		RequestID: envelope.RequestID,
		Success:   envelope.Success,
		Data:      envelope.Data,
		Error:     envelope.Error,
		Timestamp: a.now().UnixMilli(),
	}
	if !resp.Success {
		resp.Data = nil
	}

	signature, err := SignatureFor(resp.Signable(), secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign response: %w", err)
	}
	resp.Signature = signature
	return resp, nil
}

// CleanupLedger clears the nonce ledger if it holds more than nonceLedger.MaxLedgerSize
// entries. Returns whether it cleared.
func (a *Authenticator) CleanupLedger(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleanupLocked(ctx)
}

// LedgerSize returns the number of recorded nonces
func (a *Authenticator) LedgerSize(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Len(ctx)
}

func (a *Authenticator) cleanupLocked(ctx context.Context) (bool, error) {
	size, err := a.ledger.Len(ctx)
	if err != nil {
		return false, err
	}
	if size <= nonceLedger.MaxLedgerSize {
		return false, nil
	}
	if err := a.ledger.Clear(ctx); err != nil {
		return false, err
	}
	a.metrics.LedgerReset()
	a.logger.Sugar().Debugw("Nonce ledger cleared", "size", size)
	return true, nil
}

// Close releases the nonce ledger
func (a *Authenticator) Close() error {
	return a.ledger.Close()
}
