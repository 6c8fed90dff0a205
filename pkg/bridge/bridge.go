package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/authenticator"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"go.uber.org/zap"
)

// FailurePolicy decides what the sender sees when authentication fails
type FailurePolicy string

const (
	// FailurePolicySilent drops the message without a response
	FailurePolicySilent FailurePolicy = "silent"
	// FailurePolicySignedError answers with one undifferentiated signed error
	FailurePolicySignedError FailurePolicy = "signed-error"
)

const (
	// SecretNotEstablishedMessage is the unsigned precondition error sent while unkeyed
	SecretNotEstablishedMessage = "shared secret not established"
	// AuthenticationFailedMessage is the only error reported under FailurePolicySignedError
	AuthenticationFailedMessage = "authentication failed"
)

// ParseFailurePolicy maps a configuration string to a policy. Empty means silent.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailurePolicySilent:
		return FailurePolicySilent, nil
	case FailurePolicySignedError:
		return FailurePolicySignedError, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Config is applied at construction
type Config struct {
	// SharedSecret pre-seeds the secret, starting the bridge keyed
	SharedSecret string
	// OnSharedSecretReceived is invoked with every secret installed by an exchange
	OnSharedSecretReceived func(secret string)
	// MaxMessageAge defaults to authenticator.DefaultMaxMessageAge
	MaxMessageAge time.Duration
	// DebugMode traces every message at debug level. It has no behavioral effect.
	DebugMode     bool
	FailurePolicy FailurePolicy
	// Ledger defaults to an in-memory ledger
	Ledger  nonceLedger.INonceLedger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Bridge is the responder endpoint of one channel session. It owns the session's
// authenticator and is in one of two states: unkeyed until a secret is installed,
// keyed afterwards. HandleMessage is safe for concurrent use.
type Bridge struct {
	auth       *authenticator.Authenticator
	dispatcher dispatcher.IDispatcher
	policy     FailurePolicy
	debug      bool
	metrics    *metrics.Metrics
	logger     *zap.Logger

	onSecretReceived func(string)

	established     chan struct{}
	establishedOnce sync.Once

	subscribersMu sync.RWMutex
	subscribers   map[uint64]func(string)
	nextSubID     uint64
}

// NewBridge creates a bridge in front of d
func NewBridge(cfg *Config, d dispatcher.IDispatcher, logger *zap.Logger) (*Bridge, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	policy, err := ParseFailurePolicy(string(cfg.FailurePolicy))
	if err != nil {
		return nil, err
	}

	auth, err := authenticator.NewAuthenticator(&authenticator.Config{
		SharedSecret:  cfg.SharedSecret,
		MaxMessageAge: cfg.MaxMessageAge,
		Ledger:        cfg.Ledger,
		Metrics:       cfg.Metrics,
		Clock:         cfg.Clock,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	b := &Bridge{
		auth:             auth,
		dispatcher:       d,
		policy:           policy,
		debug:            cfg.DebugMode,
		metrics:          cfg.Metrics,
		logger:           logger,
		onSecretReceived: cfg.OnSharedSecretReceived,
		established:      make(chan struct{}),
		subscribers:      make(map[uint64]func(string)),
	}
	if cfg.SharedSecret != "" {
		b.markEstablished()
	}
	return b, nil
}

// HandleMessage processes one inbound message and returns the encoded response, or nil
// when the message is dropped. An error means a response was due but could not be
// produced; nothing must be sent in its place.
func (b *Bridge) HandleMessage(ctx context.Context, raw []byte) ([]byte, error) {
	b.metrics.Received()

	env, ok := decodeEnvelope(raw)
	if !ok {
		b.drop("", metrics.DropMalformed, "not an object with a requestId")
		return nil, nil
	}
	b.trace("Received message", "request_id", env.requestID(), "action", env.Action)

	if env.isSecretExchange() {
		return b.handleSecretExchange(ctx, env)
	}

	if !b.auth.IsSecureMode() {
		b.logger.Sugar().Infow("Rejected request before secret exchange", "request_id", env.requestID(), "action", env.Action)
		return b.respondUnsigned(types.NewErrorResponse(env.requestID(), SecretNotEstablishedMessage), metrics.OutcomePrecondition)
	}

	msg, ok := env.authenticated()
	if !ok {
		b.drop(env.requestID(), metrics.DropMissingAuth, "authentication fields missing")
		return nil, nil
	}

	if !b.auth.Verify(ctx, msg) {
		if b.policy == FailurePolicySignedError {
			return b.respondSigned(types.NewErrorResponse(msg.RequestID, AuthenticationFailedMessage), metrics.OutcomeAuthError)
		}
		b.drop(msg.RequestID, metrics.DropAuthFailed, "verification failed")
		return nil, nil
	}

	resp := b.dispatcher.Dispatch(ctx, msg.AdapterRequest())
	outcome := metrics.OutcomeSuccess
	if !resp.Success {
		outcome = metrics.OutcomeActionError
	}
	return b.respondSigned(resp, outcome)
}

// Secret returns the active shared secret, empty while unkeyed
func (b *Bridge) Secret() string {
	return b.auth.Secret()
}

// SetSecret installs secret directly, bypassing the exchange handshake. The nonce
// ledger is reset. Exchange observers are not notified.
func (b *Bridge) SetSecret(ctx context.Context, secret string) error {
	if err := b.auth.SetSecret(ctx, secret); err != nil {
		return err
	}
	if secret != "" {
		b.markEstablished()
	}
	return nil
}

// IsSecureMode reports whether a secret is installed
func (b *Bridge) IsSecureMode() bool {
	return b.auth.IsSecureMode()
}

// CleanupLedger clears the nonce ledger if it is over its size bound
func (b *Bridge) CleanupLedger(ctx context.Context) (bool, error) {
	return b.auth.CleanupLedger(ctx)
}

// LedgerSize returns the number of nonces currently recorded
func (b *Bridge) LedgerSize(ctx context.Context) (int, error) {
	return b.auth.LedgerSize(ctx)
}

// SecretEstablished is closed the first time a secret is installed
func (b *Bridge) SecretEstablished() <-chan struct{} {
	return b.established
}

// Subscribe registers fn for every secret installed by an exchange. The returned
// function removes the subscription.
func (b *Bridge) Subscribe(fn func(secret string)) func() {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = fn

	return func() {
		b.subscribersMu.Lock()
		defer b.subscribersMu.Unlock()
		delete(b.subscribers, id)
	}
}

// Close releases the session's nonce ledger
func (b *Bridge) Close() error {
	return b.auth.Close()
}

func (b *Bridge) drop(requestID string, reason string, detail string) {
	b.metrics.Dropped(reason)
	b.logger.Sugar().Debugw("Dropped message", "request_id", requestID, "reason", reason, "detail", detail)
}

func (b *Bridge) trace(msg string, keysAndValues ...interface{}) {
	if !b.debug {
		return
	}
	b.logger.Sugar().Debugw(msg, keysAndValues...)
}
