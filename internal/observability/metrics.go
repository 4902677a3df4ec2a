// Package observability exposes Prometheus metrics for chat sessions,
// streaming, analysis and backend calls.
//
// All recording methods are safe on a nil *Metrics, which lets tests and
// partially wired services skip instrumentation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ai_core"

// Metrics groups every collector the service records.
type Metrics struct {
	// ActiveSessions tracks open duplex sessions.
	ActiveSessions prometheus.Gauge

	// SessionsTotal counts session attempts.
	// Labels: result (accepted, rejected, handshake_failed)
	SessionsTotal *prometheus.CounterVec

	// StreamsTotal counts streamed answers by terminal status.
	// Labels: status (complete, error, cancelled)
	StreamsTotal *prometheus.CounterVec

	// StreamChunksTotal counts chunk events forwarded to clients.
	StreamChunksTotal prometheus.Counter

	// StreamDurationSeconds measures a request from inbound message to terminal event.
	// Labels: status
	StreamDurationSeconds *prometheus.HistogramVec

	// AnalysesTotal counts conversation analyses by the path that produced them.
	// Labels: outcome (model, pattern_fallback, model_fallback, minimal_fallback)
	AnalysesTotal *prometheus.CounterVec

	// BackendRequestsTotal counts calls to the profile backend.
	// Labels: endpoint, status (ok, error, status_<code>)
	BackendRequestsTotal *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of open chat sessions.",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "attempts_total",
			Help:      "Chat session attempts by result.",
		}, []string{"result"}),
		StreamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "requests_total",
			Help:      "Streamed answers by terminal status.",
		}, []string{"status"}),
		StreamChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Chunk events sent to clients.",
		}),
		StreamDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Time from inbound message to terminal event.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"status"}),
		AnalysesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Conversation analyses by outcome.",
		}, []string{"outcome"}),
		BackendRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Profile backend calls by endpoint and status.",
		}, []string{"endpoint", "status"}),
	}
}

// SessionOpened records an accepted session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues("accepted").Inc()
	m.ActiveSessions.Inc()
}

// SessionClosed records a session leaving the registry.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// SessionRefused records a session that never opened.
func (m *Metrics) SessionRefused(result string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(result).Inc()
}

// ChunkSent records one forwarded chunk.
func (m *Metrics) ChunkSent() {
	if m == nil {
		return
	}
	m.StreamChunksTotal.Inc()
}

// StreamFinished records a finished request.
func (m *Metrics) StreamFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StreamsTotal.WithLabelValues(status).Inc()
	m.StreamDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

// AnalysisFinished records which path produced an analysis.
func (m *Metrics) AnalysisFinished(outcome string) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
}

// BackendRequest records one backend call.
func (m *Metrics) BackendRequest(endpoint, status string) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(endpoint, status).Inc()
}
