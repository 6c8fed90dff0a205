package bridge

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
)

// handleSecretExchange installs the widget's secret and acknowledges it unsigned.
// This is the only message processed without authentication.
func (b *Bridge) handleSecretExchange(ctx context.Context, env *envelope) ([]byte, error) {
	if env.WidgetSecret == nil || *env.WidgetSecret == "" {
		b.drop(env.requestID(), metrics.DropMalformed, "secret exchange without widgetSecret")
		return nil, nil
	}
	secret := *env.WidgetSecret

	if err := b.auth.SetSecret(ctx, secret); err != nil {
		return nil, fmt.Errorf("failed to install shared secret: %w", err)
	}
	b.markEstablished()
	b.metrics.SecretExchanged()
	b.logger.Sugar().Infow("Shared secret established", "request_id", env.requestID(), "secret_length", len(secret))

	b.notifySecretReceived(secret)

	ack := types.NewSuccessResponse(env.requestID(), &types.SecretExchangeAck{Received: true})
	return b.respondUnsigned(ack, metrics.OutcomeExchangeAck)
}

func (b *Bridge) notifySecretReceived(secret string) {
	if b.onSecretReceived != nil {
		b.onSecretReceived(secret)
	}

	b.subscribersMu.RLock()
	subscribers := make([]func(string), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subscribers = append(subscribers, fn)
	}
	b.subscribersMu.RUnlock()

	for _, fn := range subscribers {
		fn(secret)
	}
}

func (b *Bridge) markEstablished() {
	b.establishedOnce.Do(func() {
		close(b.established)
	})
}
