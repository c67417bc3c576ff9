package paged

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for page resolution.
var (
	pagedFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paged_fetches_total",
		Help: "Total page fetches by outcome",
	}, []string{"outcome"}) // "success", "failure", "abandoned"

	pagedFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paged_fetch_duration_seconds",
		Help:    "Duration of page fetches that settled their waiters",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	pagedFetchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paged_fetches_in_flight",
		Help: "Number of page fetches currently outstanding",
	})

	pagedJoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paged_joins_total",
		Help: "Total resolve calls that joined an in-flight fetch",
	})

	pagedCancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paged_cancellations_total",
		Help: "Total cancellations by scope",
	}, []string{"scope"}) // "waiter", "fetch"
)
