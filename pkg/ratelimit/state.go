// Package ratelimit spaces outgoing search requests and honours server
// back-pressure signalled through HTTP 429 Retry-After headers.
package ratelimit

import (
	"time"
)

// State is a point-in-time snapshot of a Throttle.
type State struct {
	// NextAllowed is the earliest time the next request may be sent.
	NextAllowed time.Time `json:"next_allowed"`

	// LastRequest is when the previous request was released.
	LastRequest time.Time `json:"last_request"`

	// DeferredUntil is set while a Retry-After deferral is in force.
	DeferredUntil time.Time `json:"deferred_until"`

	// Waits counts how many times a caller had to sleep.
	Waits int `json:"waits"`
}

// IsDeferred reports whether the server asked us to back off and the
// deferral has not yet elapsed.
func (s State) IsDeferred() bool {
	return !s.DeferredUntil.IsZero() && time.Now().Before(s.DeferredUntil)
}

// TimeUntilAllowed returns how long a request would have to wait now.
// Returns 0 if a request may go out immediately.
func (s State) TimeUntilAllowed() time.Duration {
	d := time.Until(s.NextAllowed)
	if d < 0 {
		return 0
	}
	return d
}
