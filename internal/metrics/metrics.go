// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts API requests by route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetgoals_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration measures API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "budgetgoals_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// GoalOperations counts goal store writes by operation and outcome.
	GoalOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetgoals_goal_operations_total",
			Help: "Goal write operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// RolloversTotal counts successor goals by how they were materialized.
	RolloversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetgoals_rollovers_total",
			Help: "Repeating goal rollovers",
		},
		[]string{"result"},
	)

	// AggregateCache counts aggregate cache lookups.
	AggregateCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetgoals_aggregate_cache_total",
			Help: "Aggregate cache lookups by result",
		},
		[]string{"result"},
	)

	// AggregateDuration measures the store-side SUM query.
	AggregateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "budgetgoals_aggregate_duration_seconds",
			Help:    "Transaction aggregation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	// EventsPublished counts goal lifecycle messages.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetgoals_events_published_total",
			Help: "Goal events published by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// Outcome labels an operation result for the counters above.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
