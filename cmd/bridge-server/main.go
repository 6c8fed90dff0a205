package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/bridge"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/config"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/logger"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/server"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport/natsChannel"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/wallet/ethWallet"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "bridge-server",
		Usage: "EigenX widget wallet bridge",
		Description: `Host side of the widget wallet bridge.

Each channel session starts unkeyed. The widget installs a shared secret with
EXCHANGE_SHARED_SECRET, after which every request must carry a timestamp, a fresh nonce
and an HMAC-SHA256 signature. Verified requests are dispatched to the wallet and every
response is signed with the same secret.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "HTTP server port (websocket endpoint, health and metrics)",
				EnvVars: []string{config.EnvBridgePort},
			},
			&cli.StringFlag{
				Name:    "transport",
				Usage:   "Channel transport: websocket or nats",
				Value:   string(config.TransportWebsocket),
				EnvVars: []string{config.EnvBridgeTransport},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{config.EnvBridgeNATSURL},
			},
			&cli.StringFlag{
				Name:    "nats-inbound-subject",
				Usage:   "Subject the widget publishes requests on",
				Value:   "bridge.requests",
				EnvVars: []string{config.EnvBridgeNATSInboundSubject},
			},
			&cli.StringFlag{
				Name:    "nats-outbound-subject",
				Usage:   "Subject responses are published on",
				Value:   "bridge.responses",
				EnvVars: []string{config.EnvBridgeNATSOutboundSubject},
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origins",
				Usage:   "Origin patterns allowed to open a websocket channel",
				EnvVars: []string{config.EnvBridgeAllowedOrigins},
			},
			&cli.DurationFlag{
				Name:    "max-message-age",
				Usage:   "Maximum clock drift accepted on request timestamps",
				Value:   5 * time.Minute,
				EnvVars: []string{config.EnvBridgeMaxMessageAge},
			},
			&cli.StringFlag{
				Name:    "failure-policy",
				Usage:   "What to do with requests failing authentication: silent or signed-error",
				Value:   string(bridge.FailurePolicySilent),
				EnvVars: []string{config.EnvBridgeFailurePolicy},
			},
			&cli.StringFlag{
				Name:    "shared-secret",
				Usage:   "Pre-seeded shared secret; sessions start keyed when set",
				EnvVars: []string{config.EnvBridgeSharedSecret},
			},
			&cli.StringFlag{
				Name:    "ledger-backend",
				Usage:   "Nonce ledger backend: memory, badger or redis",
				Value:   string(config.LedgerBackendMemory),
				EnvVars: []string{config.EnvBridgeLedgerBackend},
			},
			&cli.DurationFlag{
				Name:    "ledger-retention",
				Usage:   "How long recorded nonces are kept by the badger and redis ledgers",
				Value:   10 * time.Minute,
				EnvVars: []string{config.EnvBridgeLedgerRetention},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port) for the redis ledger",
				EnvVars: []string{config.EnvBridgeRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvBridgeRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvBridgeRedisDB},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Inbound messages per second per session (0 disables)",
				EnvVars: []string{config.EnvBridgeRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Usage:   "Burst size for the per-session rate limit",
				Value:   20,
				EnvVars: []string{config.EnvBridgeRateBurst},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL of the initial network",
				Value:   "http://localhost:8545",
				EnvVars: []string{config.EnvBridgeRPCURL},
			},
			&cli.Uint64Flag{
				Name:     "chain-id",
				Aliases:  []string{"chain"},
				Usage:    "Chain ID served by rpc-url",
				EnvVars:  []string{config.EnvBridgeChainID},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "networks",
				Usage:   "Extra networks the widget may switch to, as chainId=rpcUrl pairs separated by commas",
				EnvVars: []string{config.EnvBridgeNetworks},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Wallet private key (hex string)",
				EnvVars: []string{config.EnvBridgePrivateKey},
			},
			&cli.StringFlag{
				Name:    "kms-key-id",
				Usage:   "AWS KMS key id or alias holding the wallet key (secp256k1)",
				EnvVars: []string{config.EnvBridgeKMSKeyID},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "AWS region override for KMS",
				EnvVars: []string{config.EnvBridgeAWSRegion},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging, including a trace of every bridge message",
				EnvVars: []string{config.EnvBridgeVerbose},
			},
		},
		Action: runBridgeServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runBridgeServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := parseBridgeServerConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Sugar().Infow("Using chain", "name", cfg.ChainName, "chain_id", cfg.ChainID)

	signer, err := newKeySigner(ctx, cfg, l)
	if err != nil {
		return err
	}

	w, err := ethWallet.NewEthWallet(ctx, &ethWallet.EthWalletConfig{Networks: cfg.AllNetworks()}, signer, l)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	defer w.Close()

	d, err := dispatcher.NewDispatcher(w, l)
	if err != nil {
		return err
	}
	d.OnNetworkSwitched(func(ctx context.Context, chain string, event *types.NetworkSwitchedEventParams) {
		l.Sugar().Infow("Widget switched network", "chain", chain, "chain_id", event.ChainID)
	})

	ledgers, closeLedgers, err := newLedgerFactory(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer closeLedgers()

	m := metrics.NewMetrics()
	newBridge := newBridgeFactory(cfg, d, ledgers, m, l)

	srv := server.NewServer(&server.ServerConfig{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	}, newBridge, m, l)

	if cfg.Verbose {
		l.Sugar().Infow("Bridge Server Configuration",
			"transport", cfg.Transport,
			"port", cfg.Port,
			"failure_policy", cfg.FailurePolicy,
			"max_message_age", cfg.MaxMessageAge,
			"ledger_backend", cfg.LedgerBackend,
			"preseeded_secret", cfg.SharedSecret != "",
			"networks", len(cfg.AllNetworks()),
		)
	}

	if cfg.Port > 0 {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		defer func() { _ = srv.Stop() }()
		l.Sugar().Infow("Available endpoints",
			"bridge", "GET /bridge",
			"health", "GET /healthz",
			"metrics", "GET /metrics")
	}

	if cfg.Transport == config.TransportNATS {
		return serveNATS(ctx, cfg, srv, l)
	}

	l.Sugar().Info("Press Ctrl+C to stop")
	<-ctx.Done()
	l.Sugar().Infow("Shutting down")
	return nil
}

func serveNATS(ctx context.Context, cfg *config.BridgeServerConfig, srv *server.Server, l *zap.Logger) error {
	conn, err := natsChannel.Connect(&natsChannel.NATSConfig{URL: cfg.NATSURL}, l)
	if err != nil {
		return err
	}
	defer conn.Close()

	channel, err := natsChannel.NewNATSChannel(conn, cfg.NATSInboundSubject, cfg.NATSOutboundSubject)
	if err != nil {
		return err
	}

	l.Sugar().Infow("Listening on NATS",
		"inbound_subject", cfg.NATSInboundSubject,
		"outbound_subject", cfg.NATSOutboundSubject)
	return srv.ServeNATS(ctx, channel)
}

func parseBridgeServerConfig(c *cli.Context) (*config.BridgeServerConfig, error) {
	networks, err := config.ParseNetworks(c.String("networks"))
	if err != nil {
		return nil, err
	}
	return &config.BridgeServerConfig{
		Port:                c.Int("port"),
		Transport:           config.TransportType(c.String("transport")),
		NATSURL:             c.String("nats-url"),
		NATSInboundSubject:  c.String("nats-inbound-subject"),
		NATSOutboundSubject: c.String("nats-outbound-subject"),
		AllowedOrigins:      c.StringSlice("allowed-origins"),
		MaxMessageAge:       c.Duration("max-message-age"),
		FailurePolicy:       c.String("failure-policy"),
		SharedSecret:        c.String("shared-secret"),
		LedgerBackend:       config.LedgerBackend(c.String("ledger-backend")),
		LedgerRetention:     c.Duration("ledger-retention"),
		RedisAddress:        c.String("redis-address"),
		RedisPassword:       c.String("redis-password"),
		RedisDB:             c.Int("redis-db"),
		RateLimit:           c.Float64("rate-limit"),
		RateBurst:           c.Int("rate-burst"),
		RpcUrl:              c.String("rpc-url"),
		ChainID:             config.ChainId(c.Uint64("chain-id")),
		Networks:            networks,
		PrivateKey:          c.String("private-key"),
		KMSKeyID:            c.String("kms-key-id"),
		AWSRegion:           c.String("aws-region"),
		Debug:               c.Bool("verbose"),
		Verbose:             c.Bool("verbose"),
	}, nil
}
