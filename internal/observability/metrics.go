package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campusfeed_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ChangeEventsPublished counts change notifications published by relation and operation.
	ChangeEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_change_events_published_total",
		Help: "Total change notifications published",
	}, []string{"relation", "operation"})

	// ChangeEventsRouted counts inbound change notifications by relation and routing decision.
	ChangeEventsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_change_events_routed_total",
		Help: "Total inbound change notifications by routing decision",
	}, []string{"relation", "decision"})

	// RefetchesTotal counts refetches by tag kind and result.
	RefetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_refetches_total",
		Help: "Total debounced refetches executed",
	}, []string{"tag", "result"})

	// InvalidationsCoalesced counts invalidations absorbed into an already pending refetch.
	InvalidationsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_invalidations_coalesced_total",
		Help: "Total invalidations coalesced by the debounce window",
	}, []string{"tag"})

	// TogglesTotal counts like toggles by target type, action and result.
	TogglesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_toggles_total",
		Help: "Total like toggles",
	}, []string{"target_type", "action", "result"})

	// OptimisticComments counts optimistic comment outcomes.
	OptimisticComments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_optimistic_comments_total",
		Help: "Total optimistic comment submissions by outcome",
	}, []string{"outcome"})

	// StatusTransitions counts connection-status transitions by target status.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_status_transitions_total",
		Help: "Total connection status transitions",
	}, []string{"status"})

	// ActiveViews is the gauge of open feed views.
	ActiveViews = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campusfeed_active_views",
		Help: "Number of open feed views",
	})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campusfeed_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// ResultLabel maps an error to the "ok"/"error" label used by engine counters.
func ResultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
