package pagination

import (
	"fmt"
	"strings"
)

// BoundaryPolicy decides how many pages a run requests.
type BoundaryPolicy string

const (
	// PolicyFloor requests floor(hint/size) pages and drops the tail.
	PolicyFloor BoundaryPolicy = "floor"

	// PolicyCeil requests ceil(total/size) pages.
	PolicyCeil BoundaryPolicy = "ceil"

	// PolicyExhaust pages until a short page or the server total.
	PolicyExhaust BoundaryPolicy = "exhaust"
)

// FailurePolicy decides what happens when a page cannot be fetched.
type FailurePolicy string

const (
	// OnAbort stops the run at the first failed page.
	OnAbort FailurePolicy = "abort"

	// OnSkip records the failed page and continues.
	OnSkip FailurePolicy = "skip"
)

// ParseBoundaryPolicy parses a policy name (case-insensitive).
func ParseBoundaryPolicy(s string) (BoundaryPolicy, error) {
	p := BoundaryPolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PolicyFloor, PolicyCeil, PolicyExhaust:
		return p, nil
	}
	return "", fmt.Errorf("unknown boundary policy %q (want floor, ceil or exhaust)", s)
}

// ParseFailurePolicy parses a failure policy name (case-insensitive).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	p := FailurePolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case OnAbort, OnSkip:
		return p, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want abort or skip)", s)
}

// IsPlan reports whether the policy fixes the page count up front.
func (p BoundaryPolicy) IsPlan() bool {
	return p == PolicyFloor || p == PolicyCeil
}

// PlanPages returns how many pages a plan policy requests for total items
// at size items per page. For PolicyExhaust the ceil count is returned as an
// estimate. Returns 0 when size <= 0 or total <= 0.
func PlanPages(policy BoundaryPolicy, total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	if policy == PolicyFloor {
		return total / size
	}
	return (total + size - 1) / size
}
