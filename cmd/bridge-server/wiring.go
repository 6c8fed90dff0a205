package main

import (
	"context"
	"fmt"

	internalAws "github.com/Layr-Labs/eigenx-widget-bridge/internal/aws"
	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner"
	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner/awsKms"
	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner/localKeySigner"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/bridge"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/config"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger/badger"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger/memory"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger/redis"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/server"
	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"
)

func newKeySigner(ctx context.Context, cfg *config.BridgeServerConfig, l *zap.Logger) (keySigner.IKeySigner, error) {
	if cfg.PrivateKey != "" {
		signer, err := localKeySigner.NewLocalKeySignerFromHex(cfg.PrivateKey, l)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		return signer, nil
	}

	awsCfg, err := internalAws.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	identity, err := internalAws.GetCallerIdentity(ctx, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve AWS identity: %w", err)
	}
	l.Sugar().Infow("Using AWS KMS key", "key_id", cfg.KMSKeyID, "caller_arn", aws.ToString(identity.Arn))

	signer, err := awsKms.NewAWSKMSKeySigner(ctx, awsCfg, cfg.KMSKeyID, l)
	if err != nil {
		return nil, fmt.Errorf("failed to load KMS key: %w", err)
	}
	return signer, nil
}

// newLedgerFactory returns the per-session ledger factory and a func releasing the
// backend shared by its ledgers
func newLedgerFactory(ctx context.Context, cfg *config.BridgeServerConfig, l *zap.Logger) (nonceLedger.Factory, func(), error) {
	switch cfg.LedgerBackend {
	case config.LedgerBackendBadger:
		store, err := badger.NewBadgerStore(&badger.BadgerConfig{Retention: cfg.LedgerRetention}, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger ledger: %w", err)
		}
		return store.Factory(), func() { _ = store.Close() }, nil

	case config.LedgerBackendRedis:
		store, err := redis.NewRedisStore(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Retention: cfg.LedgerRetention,
		}, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect redis ledger: %w", err)
		}
		if err := store.HealthCheck(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("redis ledger is unhealthy: %w", err)
		}
		return store.Factory(), func() { _ = store.Close() }, nil

	default:
		return memory.NewFactory(), func() {}, nil
	}
}

func newBridgeFactory(
	cfg *config.BridgeServerConfig,
	d dispatcher.IDispatcher,
	ledgers nonceLedger.Factory,
	m *metrics.Metrics,
	l *zap.Logger,
) server.BridgeFactory {
	return func(sessionID string) (*bridge.Bridge, error) {
		ledger, err := ledgers(sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to create nonce ledger: %w", err)
		}
		sl := l.With(zap.String("session_id", sessionID))

		b, err := bridge.NewBridge(&bridge.Config{
			SharedSecret: cfg.SharedSecret,
			OnSharedSecretReceived: func(string) {
				sl.Sugar().Infow("Shared secret established")
			},
			MaxMessageAge: cfg.MaxMessageAge,
			DebugMode:     cfg.Debug,
			FailurePolicy: bridge.FailurePolicy(cfg.FailurePolicy),
			Ledger:        ledger,
			Metrics:       m,
		}, d, sl)
		if err != nil {
			_ = ledger.Close()
			return nil, err
		}
		return b, nil
	}
}
