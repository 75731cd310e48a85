package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdb_pages_fetched_total",
		Help: "Total pages fetched successfully by boundary policy",
	}, []string{"policy"})

	pageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdb_page_failures_total",
		Help: "Total failed page fetches by failure policy",
	}, []string{"on_error"})

	emptyPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdb_empty_pages_total",
		Help: "Total pages that returned no identifiers",
	})

	identifiersCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdb_identifiers_collected_total",
		Help: "Total identifiers collected across runs",
	})

	runDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pdb_collect_duration_seconds",
		Help:    "Duration of a full collection run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
	}, []string{"policy", "outcome"})
)
