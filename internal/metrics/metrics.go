// Package metrics exposes the server's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes recorded by the broadcaster.
const (
	DeliveryLocal   = "local"
	DeliveryRelayed = "relayed"
	DeliveryFailed  = "failed"
	DeliveryStale   = "stale"
)

// FrameInvalid labels inbound frames that did not decode.
const FrameInvalid = "INVALID"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	activeConnections prometheus.Gauge
	framesReceived    *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	authResults       *prometheus.CounterVec
	chatMessages      prometheus.Counter
	rateLimited       prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialchat_connections_total",
			Help: "Total WebSocket connections accepted",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socialchat_active_connections",
			Help: "Current number of open WebSocket connections",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialchat_frames_received_total",
			Help: "Inbound frames by message type",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialchat_deliveries_total",
			Help: "Outbound frame deliveries by outcome",
		}, []string{"outcome"}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialchat_auth_results_total",
			Help: "Authentication, signup and reauthentication results by operation and status",
		}, []string{"operation", "status"}),
		chatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialchat_chat_messages_total",
			Help: "Chat messages persisted",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialchat_rate_limited_frames_total",
			Help: "Inbound frames dropped by the per-connection rate limiter",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsTotal,
		m.activeConnections,
		m.framesReceived,
		m.deliveries,
		m.authResults,
		m.chatMessages,
		m.rateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterQueueDepth exposes depth as the worker queue gauge.
func (m *Metrics) RegisterQueueDepth(depth func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "socialchat_worker_queued_tasks",
		Help: "Tasks waiting in the worker pool",
	}, depth))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) FrameReceived(messageType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(messageType).Inc()
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuthResult(operation, status string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) ChatMessage() {
	if m == nil {
		return
	}
	m.chatMessages.Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
