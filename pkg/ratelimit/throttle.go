package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for request throttling.
var (
	throttleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdb_throttle_waits_total",
		Help: "Total number of requests delayed by the throttle",
	})

	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pdb_throttle_wait_seconds",
		Help:    "Time requests spent waiting in the throttle",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 120},
	})

	throttleDeferralsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdb_throttle_deferrals_total",
		Help: "Total number of Retry-After deferrals applied",
	})
)

// MaxDeferral caps a single Retry-After deferral.
const MaxDeferral = 5 * time.Minute

// Throttle enforces a minimum interval between requests. A zero interval
// disables spacing but Retry-After deferrals still apply.
type Throttle struct {
	mu          sync.Mutex
	minInterval time.Duration
	state       State
	logger      zerolog.Logger

	// now and sleep are swapped in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewThrottle creates a throttle releasing at most one request per
// minInterval.
func NewThrottle(minInterval time.Duration, logger zerolog.Logger) *Throttle {
	if minInterval < 0 {
		minInterval = 0
	}
	return &Throttle{
		minInterval: minInterval,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Wait blocks until the next request may be sent or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := t.now()
	wait := t.state.NextAllowed.Sub(now)
	if wait < 0 {
		wait = 0
	}
	release := now.Add(wait)
	t.state.LastRequest = release
	t.state.NextAllowed = release.Add(t.minInterval)
	if wait > 0 {
		t.state.Waits++
	}
	t.mu.Unlock()

	if wait == 0 {
		return nil
	}

	throttleWaitsTotal.Inc()
	throttleWaitSeconds.Observe(wait.Seconds())
	t.logger.Debug().
		Dur("wait", wait).
		Msg("Throttling search request")

	return t.sleep(ctx, wait)
}

// Defer pushes the next allowed request at least d into the future. It is
// used when the server answers 429 with Retry-After.
func (t *Throttle) Defer(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > MaxDeferral {
		d = MaxDeferral
	}

	t.mu.Lock()
	until := t.now().Add(d)
	if until.After(t.state.NextAllowed) {
		t.state.NextAllowed = until
	}
	t.state.DeferredUntil = until
	t.mu.Unlock()

	throttleDeferralsTotal.Inc()
	t.logger.Warn().
		Dur("retry_after", d).
		Time("deferred_until", until).
		Msg("Search endpoint asked to back off")
}

// State returns a snapshot of the throttle.
func (t *Throttle) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. Returns 0 when the header is absent or unparseable.
func ParseRetryAfter(headers http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}

	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
