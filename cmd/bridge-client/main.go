package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/client"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/config"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/logger"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport/websocketChannel"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "bridge-client",
		Usage: "Widget side test client for the EigenX wallet bridge",
		Description: `Connects to a bridge over websocket, performs the shared secret exchange and
issues one authenticated request. The response signature is verified before the
response is printed.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Bridge websocket URL",
				Value: "ws://localhost:8080/bridge",
			},
			&cli.StringFlag{
				Name:  "chain",
				Usage: "Chain hint sent with the request",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for each response",
				Value: 30 * time.Second,
			},
			&cli.StringFlag{
				Name:     "action",
				Usage:    "Action to invoke, e.g. GET_CHAIN_ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "params",
				Usage: "Action params as a JSON object",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Action: callCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func callCommand(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := &config.BridgeClientConfig{
		URL:     c.String("url"),
		Chain:   c.String("chain"),
		Timeout: c.Duration("timeout"),
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	action := types.Action(c.String("action"))
	var params json.RawMessage
	if raw := c.String("params"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("params must be valid JSON")
		}
		params = json.RawMessage(raw)
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.Timeout)
	defer cancel()

	channel, err := websocketChannel.Dial(ctx, cfg.URL)
	if err != nil {
		return err
	}
	bc := client.NewClient(channel, l)
	defer bc.Close()

	if _, err := bc.ExchangeSecret(ctx); err != nil {
		return fmt.Errorf("secret exchange failed: %w", err)
	}
	fmt.Printf("Bridge Client: Shared secret established with %s\n", cfg.URL)

	var p interface{}
	if params != nil {
		p = params
	}
	resp, err := bc.Call(ctx, action, cfg.Chain, p)
	if err != nil {
		return fmt.Errorf("%s failed: %w", action, err)
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"requestId": resp.RequestID,
		"success":   resp.Success,
		"data":      resp.Data,
		"error":     resp.Error,
		"timestamp": resp.Timestamp,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("Bridge Client: Verified response\n%s\n", out)

	if !resp.Success {
		return fmt.Errorf("%s was rejected: %s", action, resp.Error)
	}
	return nil
}
