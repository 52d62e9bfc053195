package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Graph store
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "songmap_store_operation_duration_seconds",
			Help:    "Duration of graph store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songmap_store_operation_errors_total",
			Help: "Total number of failed graph store operations by error kind",
		},
		[]string{"operation", "kind"},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songmap_store_retries_total",
			Help: "Total number of retried graph store operations",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "songmap_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songmap_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Listening
	Listens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songmap_listens_total",
			Help: "Total number of recorded listens by chain mode",
		},
		[]string{"mode"}, // "chain", "new_chain"
	)

	EdgesLinked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "songmap_edges_linked_total",
			Help: "Total number of NEXT edge upserts performed by listens",
		},
	)

	// Recommendations
	RecommendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "songmap_recommend_duration_seconds",
			Help:    "Duration of recommendation requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	RecommendCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "songmap_recommend_candidates",
			Help:    "Number of neighbors ranked per recommendation",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 250},
		},
	)

	// Recency cache
	HistoryConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "songmap_history_conflict_retries_total",
			Help: "Total number of recency cache transactions retried after a conflict",
		},
	)

	NamespaceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songmap_namespace_cache_lookups_total",
			Help: "Namespace tag cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// HTTP
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "songmap_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveStoreOp records the latency of a store operation started at start.
func ObserveStoreOp(operation string, start time.Time) {
	StoreOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
