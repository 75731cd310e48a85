package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pageHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdb_cache_hits_total",
		Help: "Search pages served from the cache",
	})

	pageMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdb_cache_misses_total",
		Help: "Search pages not found in the cache or expired",
	})

	// bytesWrittenTotal grows with every stored page; redis evicts on TTL
	// so it is not the resident size.
	bytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdb_cache_written_bytes_total",
		Help: "Bytes of encoded search pages written to the cache",
	})

	operationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdb_cache_errors_total",
		Help: "Cache operation errors by operation (get, set, delete)",
	}, []string{"operation"})
)
