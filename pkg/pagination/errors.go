package pagination

import (
	"errors"
	"fmt"
)

// ErrTooManyFailures is returned when a skip run hits MaxConsecutiveFailures.
var ErrTooManyFailures = errors.New("too many consecutive page failures")

// FetchError reports the page that stopped a run.
type FetchError struct {
	Page  int
	Start int
	Err   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d (start %d): %v", e.Page, e.Start, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
