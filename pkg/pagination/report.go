package pagination

import (
	"time"

	"github.com/rs/zerolog"
)

// Report describes what a collection run did.
type Report struct {
	Policy    BoundaryPolicy `json:"policy" yaml:"policy"`
	OnError   FailurePolicy  `json:"on_error" yaml:"on_error"`
	PageSize  int            `json:"page_size" yaml:"page_size"`
	TotalHint int            `json:"total_hint" yaml:"total_hint"`

	// ServerTotal is the first total reported by the server, -1 if none.
	ServerTotal int `json:"server_total" yaml:"server_total"`

	// PagesPlanned is the fixed page count of a plan policy, -1 for exhaust.
	PagesPlanned int `json:"pages_planned" yaml:"pages_planned"`
	PagesFetched int `json:"pages_fetched" yaml:"pages_fetched"`

	// Requests counts FetchPage calls, successful or not.
	Requests int `json:"requests" yaml:"requests"`

	// Starts lists the offsets requested, ascending.
	Starts []int `json:"starts" yaml:"starts"`

	SkippedPages []int `json:"skipped_pages,omitempty" yaml:"skipped_pages,omitempty"`

	// ShortPages are non-final pages that returned fewer than PageSize rows.
	ShortPages []int `json:"short_pages,omitempty" yaml:"short_pages,omitempty"`
	EmptyPages []int `json:"empty_pages,omitempty" yaml:"empty_pages,omitempty"`

	Collected         int `json:"collected" yaml:"collected"`
	Duplicates        int `json:"duplicates" yaml:"duplicates"`
	DuplicatesRemoved int `json:"duplicates_removed" yaml:"duplicates_removed"`

	// Truncated is set when the run knowingly stopped before the total, or
	// when an exhaust run collected fewer identifiers than the server total.
	Truncated bool `json:"truncated" yaml:"truncated"`

	// DroppedTail is how many identifiers lie beyond the last requested page.
	// For exhaust it is the shortfall against the server total.
	DroppedTail int `json:"dropped_tail" yaml:"dropped_tail"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Complete reports whether every page was fetched and nothing was cut off.
func (r Report) Complete() bool {
	return !r.Truncated && len(r.SkippedPages) == 0
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (r Report) MarshalZerologObject(e *zerolog.Event) {
	e.Str("policy", string(r.Policy)).
		Str("on_error", string(r.OnError)).
		Int("page_size", r.PageSize).
		Int("total_hint", r.TotalHint).
		Int("server_total", r.ServerTotal).
		Int("pages_planned", r.PagesPlanned).
		Int("pages_fetched", r.PagesFetched).
		Int("requests", r.Requests).
		Int("collected", r.Collected).
		Int("duplicates", r.Duplicates).
		Int("skipped", len(r.SkippedPages)).
		Int("short", len(r.ShortPages)).
		Int("empty", len(r.EmptyPages)).
		Bool("truncated", r.Truncated).
		Int("dropped_tail", r.DroppedTail).
		Dur("duration", r.Duration)
}
