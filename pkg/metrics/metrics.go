// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration on the dev backend.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests on the dev backend.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ClientRequestDuration tracks session-service calls made by the client.
	ClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_api_client_duration_seconds",
			Help:    "Session API call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	// FramesReceived counts parsed inbound stream frames by status.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_frames_received_total",
			Help: "Inbound assistant frames by status",
		},
		[]string{"status"},
	)

	// FrameParseFailures counts dropped inbound frames.
	FrameParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_frame_parse_failures_total",
			Help: "Inbound frames dropped because they could not be parsed",
		},
	)

	// RejectedFrames counts frames that arrived outside an open turn.
	RejectedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_rejected_frames_total",
			Help: "Frames rejected by the turn state machine",
		},
		[]string{"status", "state"},
	)

	// RevealTokens counts tokens appended by the reveal loop.
	RevealTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reveal_tokens_total",
			Help: "Tokens revealed into assistant messages",
		},
	)

	// TurnDuration tracks time from user send to turn completion.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turn_duration_seconds",
			Help:    "Time from user send to assistant finalization",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// CitationsObserved counts citations by dedupe result.
	CitationsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citations_observed_total",
			Help: "Citations seen on finalized answers",
		},
		[]string{"result"},
	)

	// PersistenceFailures counts failed remote writes.
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_failures_total",
			Help: "Remote persistence failures by operation",
		},
		[]string{"operation"},
	)

	// OutboxPending tracks entries waiting for redelivery.
	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending",
			Help: "Outbox entries waiting for delivery",
		},
	)

	// OutboxDeliveries counts outbox delivery outcomes.
	OutboxDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_deliveries_total",
			Help: "Outbox delivery attempts by kind and result",
		},
		[]string{"kind", "result"},
	)

	// StreamConnectionsActive tracks open assistant streams on the dev backend.
	StreamConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_stream_connections_active",
			Help: "Number of active assistant WebSocket connections",
		},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordClientCall records metrics for a session API call.
func RecordClientCall(operation string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ClientRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
}

// IncrementStreamConnections increments the active stream connection count.
func IncrementStreamConnections() {
	StreamConnectionsActive.Inc()
}

// DecrementStreamConnections decrements the active stream connection count.
func DecrementStreamConnections() {
	StreamConnectionsActive.Dec()
}
