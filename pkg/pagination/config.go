package pagination

import (
	"fmt"
	"time"
)

// Config holds accumulator configuration.
type Config struct {
	// TotalHint is the expected number of identifiers. It drives PolicyFloor
	// and is the fallback total for PolicyCeil.
	TotalHint int

	// PageSize is the rows requested per page.
	PageSize int

	// Policy selects how many pages are requested.
	Policy BoundaryPolicy

	// OnError selects what happens when a page fails.
	OnError FailurePolicy

	// MaxConcurrency bounds parallel page requests. 1 is strictly sequential.
	// Values above 1 require a plan policy.
	MaxConcurrency int

	// RequestTimeout bounds each page request. Zero means no per-page limit.
	RequestTimeout time.Duration

	// Deadline bounds the whole run. Zero means no overall limit.
	Deadline time.Duration

	// MaxConsecutiveFailures aborts a skip run after this many failed pages
	// in a row. Zero disables the limit.
	MaxConsecutiveFailures int

	// Dedupe removes repeated identifiers, keeping the first occurrence.
	// Duplicates are always counted in the Report.
	Dedupe bool

	// MaxPages caps the number of pages requested. Zero disables the cap.
	MaxPages int
}

// DefaultConfig returns the default configuration for the RCSB entry search.
func DefaultConfig() Config {
	return Config{
		TotalHint:              215908,
		PageSize:               10000,
		Policy:                 PolicyExhaust,
		OnError:                OnAbort,
		MaxConcurrency:         1,
		RequestTimeout:         60 * time.Second,
		Deadline:               30 * time.Minute,
		MaxConsecutiveFailures: 3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be > 0 (got %d)", c.PageSize)
	}
	if c.TotalHint < 0 {
		return fmt.Errorf("total hint must be >= 0 (got %d)", c.TotalHint)
	}
	if _, err := ParseBoundaryPolicy(string(c.Policy)); err != nil {
		return err
	}
	if _, err := ParseFailurePolicy(string(c.OnError)); err != nil {
		return err
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must be >= 0 (got %d)", c.MaxConcurrency)
	}
	if c.MaxConcurrency > 1 && !c.Policy.IsPlan() {
		return fmt.Errorf("max concurrency %d requires a floor or ceil policy (got %s)", c.MaxConcurrency, c.Policy)
	}
	if c.RequestTimeout < 0 || c.Deadline < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max consecutive failures must be >= 0 (got %d)", c.MaxConsecutiveFailures)
	}
	if c.Policy == PolicyExhaust && c.OnError == OnSkip && c.MaxConsecutiveFailures == 0 && c.MaxPages == 0 {
		return fmt.Errorf("skip with exhaust needs max consecutive failures or max pages to terminate")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages must be >= 0 (got %d)", c.MaxPages)
	}
	return nil
}
