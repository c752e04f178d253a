// Package metrics holds the Prometheus instrumentation of the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Suggestion cycles
	SuggestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govizier_suggest_duration_seconds",
			Help:    "Duration of policy suggestion cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"algorithm", "outcome"},
	)

	SuggestedTrials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govizier_suggested_trials_total",
			Help: "Total number of trials suggested by policies",
		},
		[]string{"algorithm"},
	)

	BusyRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "govizier_busy_rejections_total",
			Help: "Suggestion requests rejected because a cycle was already in flight for the study",
		},
	)

	CheckpointBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govizier_checkpoint_bytes",
			Help:    "Size of committed designer checkpoints in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B .. 4MiB
		},
		[]string{"algorithm"},
	)

	// Store
	TrialsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "govizier_trials_added_total",
			Help: "Total number of trials persisted",
		},
	)

	// Transport
	ForwardFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govizier_forward_failures_total",
			Help: "Requests to a remote server that failed at the transport level",
		},
		[]string{"target"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "govizier_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govizier_api_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "govizier_event_subscribers",
			Help: "Current number of connected trial event streams",
		},
	)
)

// RecordSuggest records one suggestion cycle.
func RecordSuggest(algorithm string, count int, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SuggestDuration.WithLabelValues(algorithm, outcome).Observe(duration.Seconds())
	if err == nil {
		SuggestedTrials.WithLabelValues(algorithm).Add(float64(count))
	}
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
