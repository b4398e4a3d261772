package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// attemptsTotal counts store executions, retries included.
	attemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finchat",
			Subsystem: "query",
			Name:      "attempts_total",
			Help:      "Total number of query execution attempts",
		},
	)

	// failuresTotal counts failed executions.
	// Labels: kind (ValidationRejection, TransientStoreFailure, PermanentStoreFailure)
	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finchat",
			Subsystem: "query",
			Name:      "failures_total",
			Help:      "Total number of failed query executions by kind",
		},
		[]string{"kind"},
	)

	attemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "finchat",
			Subsystem: "query",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of a single query attempt in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	rowsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "finchat",
			Subsystem: "query",
			Name:      "rows_returned",
			Help:      "Rows returned by successful queries",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)
)
