// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsReceivedTotal tracks transparency events received upstream.
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_received_total",
			Help: "Transparency events received, by type and transport",
		},
		[]string{"type", "transport"},
	)

	// EventsDroppedTotal tracks events dropped because their source
	// transport was not the active one.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_dropped_total",
			Help: "Events dropped from a non-active transport",
		},
		[]string{"transport"},
	)

	// UnknownEventsTotal tracks payloads with an unrecognized type tag.
	UnknownEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_unknown_events_total",
			Help: "Inbound payloads with an unrecognized type",
		},
		[]string{"transport"},
	)

	// ReconnectAttemptsTotal tracks transport reconnect attempts.
	ReconnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_reconnect_attempts_total",
			Help: "Transport reconnect attempts",
		},
		[]string{"transport"},
	)

	// ActiveTransport reports which transport is active (1) per kind.
	ActiveTransport = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_active_transport",
			Help: "Which transport is currently active",
		},
		[]string{"transport"},
	)

	// TracesActive tracks traces currently in flight in the state store.
	TracesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_traces_active",
			Help: "Traces currently running",
		},
	)

	// SSEConnectionsActive tracks active downstream SSE subscribers.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_sse_connections_active",
			Help: "Number of active SSE re-broadcast connections",
		},
	)

	// RelayPublishTotal tracks events republished to JetStream.
	RelayPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_publish_total",
			Help: "Events republished to the transparency stream",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEvent records a received transparency event.
func RecordEvent(eventType, transport string) {
	EventsReceivedTotal.WithLabelValues(eventType, transport).Inc()
}

// RecordReconnectAttempt records one reconnect attempt for a transport.
func RecordReconnectAttempt(transport string) {
	ReconnectAttemptsTotal.WithLabelValues(transport).Inc()
}

// SetActiveTransport marks one transport as active and the other inactive.
func SetActiveTransport(active string, kinds ...string) {
	for _, k := range kinds {
		v := 0.0
		if k == active {
			v = 1.0
		}
		ActiveTransport.WithLabelValues(k).Set(v)
	}
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
