package server

import (
	"context"
	"errors"
	"sync"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/bridge"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BridgeFactory builds the bridge owned by one session
type BridgeFactory func(sessionID string) (*bridge.Bridge, error)

// Session pumps one channel through one bridge. Each inbound message is handled in its
// own goroutine so a slow wallet call never blocks the channel; writes are serialized.
type Session struct {
	id      string
	channel transport.IChannel
	bridge  *bridge.Bridge
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewSession creates a session. A nil limiter disables rate limiting.
func NewSession(id string, channel transport.IChannel, b *bridge.Bridge, limiter *rate.Limiter, m *metrics.Metrics, logger *zap.Logger) *Session {
	return &Session{
		id:      id,
		channel: channel,
		bridge:  b,
		limiter: limiter,
		metrics: m,
		logger:  logger.With(zap.String("session_id", id)),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Serve runs until the channel closes or ctx is done, then waits for in-flight handlers
func (s *Session) Serve(ctx context.Context) error {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	ctx, cancel := context.WithCancel(ctx)
	defer s.wg.Wait()
	defer cancel()

	s.logger.Sugar().Infow("Session started")
	defer s.logger.Sugar().Infow("Session ended")

	for {
		raw, err := s.channel.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrChannelClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.Dropped(metrics.DropRateLimited)
			s.logger.Sugar().Debugw("Dropped message over rate limit")
			continue
		}

		s.wg.Add(1)
		go func(raw []byte) {
			defer s.wg.Done()
			s.handle(ctx, raw)
		}(raw)
	}
}

func (s *Session) handle(ctx context.Context, raw []byte) {
	out, err := s.bridge.HandleMessage(ctx, raw)
	if err != nil {
		s.logger.Sugar().Errorw("Failed to produce response", "error", err)
		return
	}
	if out == nil {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.channel.Send(ctx, out); err != nil && !errors.Is(err, transport.ErrChannelClosed) {
		s.logger.Sugar().Warnw("Failed to send response", "error", err)
	}
}
