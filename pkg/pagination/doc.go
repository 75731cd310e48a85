// Package pagination collects every identifier of an offset/rows paged
// search into one ordered sequence.
//
// The endpoint offers no cursor, only a start offset and a row count, and
// the expected total is supplied from outside. How far to page is
// therefore an explicit BoundaryPolicy:
//
//   - PolicyFloor issues exactly floor(hint/size) requests. The trailing
//     partial page is never fetched; the Report marks the run Truncated and
//     records how many identifiers were dropped.
//   - PolicyCeil issues ceil(total/size) requests, where total is the
//     server-reported count from the first page when present, else the hint.
//   - PolicyExhaust (default) pages sequentially until a page comes back
//     shorter than the page size or the server-reported total is reached.
//     The hint is only compared against the server total.
//
// Example usage:
//
//	cfg := pagination.DefaultConfig()
//	acc, err := pagination.NewAccumulator(searchClient, cfg)
//	if err != nil {
//		return err
//	}
//	result, err := acc.Collect(ctx)
//
// Identifiers are appended in page order and, within a page, in response
// order. With MaxConcurrency > 1 (plan policies only) pages are fetched by
// a bounded worker pool and reassembled by page index, so the output is
// identical to a sequential run.
//
// A failed page either aborts the run (OnAbort, the default), returning the
// contiguous prefix collected so far together with a *FetchError, or is
// skipped and recorded in Report.SkippedPages (OnSkip).
package pagination
