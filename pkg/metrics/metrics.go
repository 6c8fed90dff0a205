package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "widget_bridge"

// Drop reasons. Never exposed to the sender, only counted.
const (
	DropMalformed   = "malformed"
	DropMissingAuth = "missing_auth"
	DropAuthFailed  = "auth_failed"
	DropRateLimited = "rate_limited"
)

// Response outcomes
const (
	OutcomeSuccess      = "success"
	OutcomeActionError  = "action_error"
	OutcomePrecondition = "precondition"
	OutcomeAuthError    = "auth_error"
	OutcomeExchangeAck  = "exchange_ack"
)

// Metrics groups the bridge collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived prometheus.Counter
	MessagesDropped  *prometheus.CounterVec
	Responses        *prometheus.CounterVec
	SecretExchanges  prometheus.Counter
	LedgerResets     prometheus.Counter
	ActiveSessions   prometheus.Gauge
}

// NewMetrics registers the bridge collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound channel messages received.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped without a response.",
		}, []string{"reason"}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses sent back over the channel.",
		}, []string{"outcome"}),
		SecretExchanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_exchanges_total",
			Help:      "Shared secrets installed via the exchange handshake.",
		}),
		LedgerResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_ledger_resets_total",
			Help:      "Nonce ledger clears caused by the size bound.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Channel sessions currently being served.",
		}),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.MessagesDropped,
		m.Responses,
		m.SecretExchanges,
		m.LedgerResets,
		m.ActiveSessions,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Received() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Responded(outcome string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SecretExchanged() {
	if m == nil {
		return
	}
	m.SecretExchanges.Inc()
}

func (m *Metrics) LedgerReset() {
	if m == nil {
		return
	}
	m.LedgerResets.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
