// Package metrics exposes the Prometheus metrics registered by the other
// packages (client, cache, ratelimit, pagination) over HTTP.
//
// Metrics are defined next to the code that records them and registered
// via promauto on the default registry. This package only serves them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by all packages.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Server serves /metrics and /health while a long run is in progress.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Serve starts a metrics server on addr (e.g. ":9090" or "127.0.0.1:0").
func Serve(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("Metrics server failed")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - pdb_search_requests_total{status} (Counter): Requests by HTTP status
//   - pdb_search_request_duration_seconds (Histogram): Request duration
//   - pdb_search_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - pdb_search_retries_total{error_class} (Counter): Retry attempts by error class
//   - pdb_search_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - pdb_search_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Throttle Metrics (pkg/ratelimit):
//   - pdb_throttle_waits_total (Counter): Requests delayed by the throttle
//   - pdb_throttle_wait_seconds (Histogram): Time spent waiting
//   - pdb_throttle_deferrals_total (Counter): Retry-After deferrals
//
// Cache Metrics (pkg/cache):
//   - pdb_cache_hits_total (Counter)
//   - pdb_cache_misses_total (Counter)
//   - pdb_cache_written_bytes_total (Counter): Bytes written to the cache
//   - pdb_cache_errors_total{operation} (Counter)
//
// Collection Metrics (pkg/pagination):
//   - pdb_pages_fetched_total{policy} (Counter)
//   - pdb_page_failures_total{on_error} (Counter)
//   - pdb_empty_pages_total (Counter)
//   - pdb_identifiers_collected_total (Counter)
//   - pdb_collect_duration_seconds{policy, outcome} (Histogram)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pdb_cache_hits_total[5m])) /
//   (sum(rate(pdb_cache_hits_total[5m])) + sum(rate(pdb_cache_misses_total[5m])))
//
//   # Request Error Rate by class
//   sum by (class) (rate(pdb_search_errors_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(pdb_search_request_duration_seconds_bucket[5m]))
