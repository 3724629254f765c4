package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nos_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// DatabaseQueryLatency records database query latency by operation.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nos_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// WebSocketConnections is the gauge of bound websocket connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nos_websocket_connections",
		Help: "Number of bound websocket connections",
	})

	// EventsPublished counts events handed to the relay by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nos_relay_events_published_total",
		Help: "Total relay events published by type",
	}, []string{"event_type"})

	// RelayDrops counts per-recipient deliveries dropped by the relay.
	RelayDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nos_relay_drops_total",
		Help: "Total per-recipient deliveries dropped by reason",
	}, []string{"reason"})

	// RelaySendLatency records how long the slow path waited for a recipient buffer.
	RelaySendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nos_relay_slow_send_seconds",
		Help:    "Time spent waiting on a full recipient buffer",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// WebSocketCommands counts inbound websocket commands by type and outcome.
	WebSocketCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nos_websocket_commands_total",
		Help: "Inbound websocket commands by type and outcome",
	}, []string{"command", "outcome"})

	// MessagesAppended counts persisted messages by type.
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nos_messages_appended_total",
		Help: "Total messages appended by message type",
	}, []string{"message_type"})

	// CallTransitions counts call state transitions by target status.
	CallTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nos_call_transitions_total",
		Help: "Total call state transitions by resulting status",
	}, []string{"status", "reason"})

	// BlobBreakerState reports the blob store circuit breaker state (0 closed, 1 half-open, 2 open).
	BlobBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nos_blob_breaker_state",
		Help: "Blob store circuit breaker state",
	})
)
