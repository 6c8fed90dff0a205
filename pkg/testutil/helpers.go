package testutil

import (
	"testing"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/bridge"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger/memory"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/wallet"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// NewTestBridgeFactory returns a factory that builds a fresh memory-backed bridge over
// provider for every session. cfg is copied per session and may be nil.
func NewTestBridgeFactory(t *testing.T, provider wallet.IWalletProvider, cfg *bridge.Config, m *metrics.Metrics) func(sessionID string) (*bridge.Bridge, error) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	d, err := dispatcher.NewDispatcher(provider, logger)
	require.NoError(t, err)

	return func(sessionID string) (*bridge.Bridge, error) {
		var c bridge.Config
		if cfg != nil {
			c = *cfg
		}
		c.Ledger = memory.NewMemoryLedger()
		c.Metrics = m
		return bridge.NewBridge(&c, d, logger)
	}
}
