package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport/websocketChannel"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerConfig configures the bridge server
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	// RateLimit is the inbound messages per second allowed per session; zero disables it
	RateLimit float64
	RateBurst int
}

/*
Server exposes the bridge over websockets.

Routes:

	GET /bridge   upgrade to a websocket; each connection is one session with its own
	              shared secret and nonce ledger
	GET /healthz  liveness and the number of open sessions
	GET /metrics  Prometheus metrics
*/
type Server struct {
	cfg        *ServerConfig
	newBridge  BridgeFactory
	metrics    *metrics.Metrics
	logger     *zap.Logger
	httpServer *http.Server

	ctx      context.Context
	cancel   context.CancelFunc
	sessions atomic.Int64
}

// NewServer creates a new server instance
func NewServer(cfg *ServerConfig, newBridge BridgeFactory, m *metrics.Metrics, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		newBridge: newBridge,
		metrics:   m,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/bridge", s.handleBridge)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop ends every session and stops the HTTP server
func (s *Server) Stop() error {
	s.cancel()
	return s.httpServer.Close()
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

// ServeChannel runs one session over channel until it closes, ctx is done, or the
// server stops. The channel is closed on return.
func (s *Server) ServeChannel(ctx context.Context, channel transport.IChannel) error {
	defer channel.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	sessionID := uuid.NewString()
	b, err := s.newBridge(sessionID)
	if err != nil {
		return fmt.Errorf("failed to create bridge for session %s: %w", sessionID, err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			s.logger.Sugar().Warnw("Failed to close bridge", "session_id", sessionID, "error", err)
		}
	}()

	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	}

	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	return NewSession(sessionID, channel, b, limiter, s.metrics, s.logger).Serve(ctx)
}

// ServeNATS serves a single session over a NATS channel
func (s *Server) ServeNATS(ctx context.Context, channel transport.IChannel) error {
	s.logger.Sugar().Infow("Serving bridge over NATS")
	return s.ServeChannel(ctx, channel)
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	channel, err := websocketChannel.Accept(w, r, s.cfg.AllowedOrigins)
	if err != nil {
		s.logger.Sugar().Debugw("Rejected websocket upgrade", "remote", r.RemoteAddr, "error", err)
		return
	}
	if err := s.ServeChannel(r.Context(), channel); err != nil {
		s.logger.Sugar().Warnw("Session failed", "remote", r.RemoteAddr, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Load(),
	})
}
