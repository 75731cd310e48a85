package pagination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// progressEvery controls how often progress is logged, in pages.
const progressEvery = 10

// Page is one decoded result page.
type Page struct {
	Identifiers []string

	// TotalCount is the server-reported total, or -1 when absent.
	TotalCount int
}

// PageFetcher is the interface the search client implements for single-page fetching.
type PageFetcher interface {
	// FetchPage fetches the window [start, start+rows).
	FetchPage(ctx context.Context, start, rows int) (Page, error)
}

// Result is the outcome of Collect.
type Result struct {
	Identifiers []string
	Report      Report
}

// Accumulator pages through a search and concatenates the identifiers.
type Accumulator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewAccumulator creates an accumulator. MaxConcurrency 0 is treated as 1.
func NewAccumulator(fetcher PageFetcher, config Config) (*Accumulator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 1
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Accumulator{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "accumulator").Logger(),
	}, nil
}

// Config returns the effective configuration.
func (a *Accumulator) Config() Config {
	return a.config
}

// pageResult is the outcome of one page request.
type pageResult struct {
	index int
	start int
	page  Page
	err   error
}

// run holds the mutable state of one Collect call.
type run struct {
	cfg         Config
	report      *Report
	pages       map[int][]string
	latestTotal int
	consecutive int
	stopErr     error
}

// Collect fetches pages according to the configured policy and returns the
// concatenated identifiers. On abort the identifiers of the contiguous
// prefix fetched before the failure are returned along with the error.
func (a *Accumulator) Collect(ctx context.Context) (Result, error) {
	startTime := time.Now()
	cfg := a.config

	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	report := Report{
		Policy:       cfg.Policy,
		OnError:      cfg.OnError,
		PageSize:     cfg.PageSize,
		TotalHint:    cfg.TotalHint,
		ServerTotal:  -1,
		PagesPlanned: -1,
		Starts:       []int{},
	}
	r := &run{
		cfg:         cfg,
		report:      &report,
		pages:       make(map[int][]string),
		latestTotal: -1,
	}

	a.logger.Info().
		Str("policy", string(cfg.Policy)).
		Str("on_error", string(cfg.OnError)).
		Int("page_size", cfg.PageSize).
		Int("total_hint", cfg.TotalHint).
		Int("max_concurrency", cfg.MaxConcurrency).
		Msg("Starting collection")

	var lastIndex int
	switch cfg.Policy {
	case PolicyExhaust:
		lastIndex = a.collectExhaust(ctx, r)
	default:
		lastIndex = a.collectPlan(ctx, r)
	}

	ids := r.assemble(lastIndex)
	r.finish(ids, lastIndex)
	if cfg.Dedupe {
		ids = dedupe(ids)
	}
	report.Collected = len(ids)
	report.Duration = time.Since(startTime)

	outcome := "ok"
	if r.stopErr != nil {
		outcome = "error"
	}
	runDurationSeconds.WithLabelValues(string(cfg.Policy), outcome).Observe(report.Duration.Seconds())
	identifiersCollectedTotal.Add(float64(len(ids)))

	if report.Truncated {
		a.logger.Warn().
			Int("dropped_tail", report.DroppedTail).
			Int("pages_planned", report.PagesPlanned).
			Msg("Collection truncated: fewer identifiers than the known total")
	}
	if report.ServerTotal >= 0 && cfg.TotalHint > 0 && report.ServerTotal != cfg.TotalHint {
		a.logger.Warn().
			Int("total_hint", cfg.TotalHint).
			Int("server_total", report.ServerTotal).
			Msg("Total hint differs from server-reported total")
	}

	if r.stopErr != nil {
		a.logger.Error().
			Err(r.stopErr).
			EmbedObject(report).
			Msg("Collection stopped")
		return Result{Identifiers: ids, Report: report}, r.stopErr
	}

	a.logger.Info().
		EmbedObject(report).
		Msg("Collection complete")

	return Result{Identifiers: ids, Report: report}, nil
}

// collectPlan runs PolicyFloor and PolicyCeil. Returns the last planned index.
func (a *Accumulator) collectPlan(ctx context.Context, r *run) int {
	cfg := r.cfg
	first := 0
	planned := 0

	switch cfg.Policy {
	case PolicyFloor:
		planned = PlanPages(PolicyFloor, cfg.TotalHint, cfg.PageSize)
		if planned == 0 {
			r.report.PagesPlanned = 0
			return -1
		}
	case PolicyCeil:
		// page 0 is fetched alone to learn the server total
		if !a.handle(ctx, r, a.fetchOne(ctx, 0)) {
			r.report.PagesPlanned = 1
			return 0
		}
		first = 1
		total := cfg.TotalHint
		if r.latestTotal >= 0 {
			total = r.latestTotal
		}
		planned = PlanPages(PolicyCeil, total, cfg.PageSize)
		if planned < 1 {
			planned = 1
		}
	}

	if cfg.MaxPages > 0 && planned > cfg.MaxPages {
		a.logger.Warn().
			Int("planned", planned).
			Int("max_pages", cfg.MaxPages).
			Msg("Page plan capped")
		planned = cfg.MaxPages
		r.report.Truncated = true
	}
	r.report.PagesPlanned = planned

	if first >= planned {
		return planned - 1
	}

	if cfg.MaxConcurrency > 1 && planned-first > 1 {
		a.fetchPool(ctx, r, first, planned)
		return planned - 1
	}

	for i := first; i < planned; i++ {
		if !a.handle(ctx, r, a.fetchOne(ctx, i)) {
			break
		}
		a.logProgress(r, planned)
	}
	return planned - 1
}

// collectExhaust pages sequentially until the server total is covered, or
// until a short page when the server reports no total. A short page below a
// known total does not end the run. Returns the last requested index.
func (a *Accumulator) collectExhaust(ctx context.Context, r *run) int {
	cfg := r.cfg
	last := -1

	for i := 0; ; i++ {
		if cfg.MaxPages > 0 && i >= cfg.MaxPages {
			a.logger.Warn().
				Int("max_pages", cfg.MaxPages).
				Msg("Page cap reached before the end of the result set")
			r.report.Truncated = true
			return last
		}

		res := a.fetchOne(ctx, i)
		last = i
		if !a.handle(ctx, r, res) {
			return last
		}
		a.logProgress(r, -1)

		if r.latestTotal >= 0 && (i+1)*cfg.PageSize >= r.latestTotal {
			return last
		}
		if res.err == nil && len(res.page.Identifiers) < cfg.PageSize {
			if r.latestTotal < 0 {
				return last
			}
			a.logger.Warn().
				Int("page", i).
				Int("identifiers", len(res.page.Identifiers)).
				Int("server_total", r.latestTotal).
				Msg("Short page below the server total, continuing")
		}
	}
}

// fetchPool fetches pages [from, to) with a bounded worker pool.
func (a *Accumulator) fetchPool(ctx context.Context, r *run, from, to int) {
	stop := make(chan struct{})
	pageQueue := make(chan int, to-from)
	results := make(chan pageResult, to-from)

	for i := from; i < to; i++ {
		pageQueue <- i
	}
	close(pageQueue)

	workers := a.config.MaxConcurrency
	if workers > to-from {
		workers = to - from
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go a.worker(ctx, stop, pageQueue, results, &wg, w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Results arrive in completion order; store by index and reassemble later.
	// On abort dispatch stops but in-flight pages are still recorded, so the
	// lowest failing page decides the error and the prefix.
	collected := make([]pageResult, 0, to-from)
	aborted := false
	for res := range results {
		collected = append(collected, res)
		r.record(res)

		if res.err != nil && r.cfg.OnError == OnAbort && !aborted {
			aborted = true
			close(stop)
			continue
		}
		if res.err == nil {
			a.logProgress(r, to)
		}
	}

	if aborted {
		r.stopErr = a.fail(ctx, r, lowestFailure(collected))
		return
	}

	if r.cfg.OnError == OnSkip {
		sort.Ints(r.report.SkippedPages)
		if r.cfg.MaxConsecutiveFailures > 0 && longestRun(r.report.SkippedPages) >= r.cfg.MaxConsecutiveFailures {
			failed := lowestFailure(collected)
			r.stopErr = fmt.Errorf("%w: %w", ErrTooManyFailures, a.fetchError(failed))
		}
	}
	if r.stopErr == nil && ctx.Err() != nil {
		r.stopErr = &FetchError{Page: to - 1, Start: (to - 1) * r.cfg.PageSize, Err: ctx.Err()}
	}
}

// worker processes pages from the queue until it drains or stop closes.
func (a *Accumulator) worker(ctx context.Context, stop <-chan struct{}, pageQueue <-chan int, results chan<- pageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for index := range pageQueue {
		select {
		case <-ctx.Done():
			a.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		case <-stop:
			a.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (collection aborted)")
			return
		default:
		}

		results <- a.fetchOne(ctx, index)
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		a.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

// fetchOne requests one page under the per-request timeout.
func (a *Accumulator) fetchOne(ctx context.Context, index int) pageResult {
	start := index * a.config.PageSize
	res := pageResult{index: index, start: start}

	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	pageCtx := ctx
	if a.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, a.config.RequestTimeout)
		defer cancel()
	}

	res.page, res.err = a.fetcher.FetchPage(pageCtx, start, a.config.PageSize)
	return res
}

// handle records a sequential result and reports whether to continue.
func (a *Accumulator) handle(ctx context.Context, r *run, res pageResult) bool {
	r.record(res)

	if res.err == nil {
		r.consecutive = 0
		return true
	}

	r.consecutive++
	if r.cfg.OnError == OnAbort || ctx.Err() != nil {
		r.stopErr = a.fail(ctx, r, res)
		return false
	}

	a.logger.Warn().
		Err(res.err).
		Int("page", res.index).
		Int("start", res.start).
		Int("consecutive", r.consecutive).
		Msg("Skipping failed page")

	if r.cfg.MaxConsecutiveFailures > 0 && r.consecutive >= r.cfg.MaxConsecutiveFailures {
		r.stopErr = fmt.Errorf("%w: %w", ErrTooManyFailures, a.fetchError(res))
		return false
	}
	return true
}

func (a *Accumulator) fail(ctx context.Context, r *run, res pageResult) error {
	a.logger.Error().
		Err(res.err).
		Int("page", res.index).
		Int("start", res.start).
		Int("rows", r.cfg.PageSize).
		Bool("deadline", ctx.Err() != nil).
		Msg("Page fetch failed, aborting collection")
	return a.fetchError(res)
}

func (a *Accumulator) fetchError(res pageResult) *FetchError {
	return &FetchError{Page: res.index, Start: res.start, Err: res.err}
}

func (a *Accumulator) logProgress(r *run, planned int) {
	fetched := r.report.PagesFetched
	if fetched == 0 || fetched%progressEvery != 0 {
		return
	}
	ev := a.logger.Info().
		Int("fetched", fetched).
		Int("identifiers", r.count())
	if planned > 0 {
		ev = ev.Int("planned", planned).
			Float64("progress_pct", float64(fetched)/float64(planned)*100)
	}
	ev.Msg("Fetch progress")
}

// record books one page result into the run.
func (r *run) record(res pageResult) {
	r.report.Requests++
	r.report.Starts = append(r.report.Starts, res.start)

	if res.err != nil {
		pageFailuresTotal.WithLabelValues(string(r.cfg.OnError)).Inc()
		if r.cfg.OnError == OnSkip && !errors.Is(res.err, context.Canceled) {
			r.report.SkippedPages = append(r.report.SkippedPages, res.index)
		}
		return
	}

	pagesFetchedTotal.WithLabelValues(string(r.cfg.Policy)).Inc()
	r.report.PagesFetched++
	if res.page.TotalCount >= 0 {
		if r.report.ServerTotal < 0 {
			r.report.ServerTotal = res.page.TotalCount
		}
		r.latestTotal = res.page.TotalCount
	}
	if len(res.page.Identifiers) == 0 {
		emptyPagesTotal.Inc()
		r.report.EmptyPages = append(r.report.EmptyPages, res.index)
	}
	ids := res.page.Identifiers
	if ids == nil {
		ids = []string{}
	}
	r.pages[res.index] = ids
}

func (r *run) count() int {
	n := 0
	for _, ids := range r.pages {
		n += len(ids)
	}
	return n
}

// assemble concatenates fetched pages in index order. After an abort only
// the contiguous prefix starting at page 0 is kept.
func (r *run) assemble(lastIndex int) []string {
	indices := make([]int, 0, len(r.pages))
	for i := range r.pages {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	if r.stopErr != nil && r.cfg.OnError == OnAbort {
		prefix := indices[:0]
		for want, i := range indices {
			if i != want {
				break
			}
			prefix = append(prefix, i)
		}
		for _, i := range indices[len(prefix):] {
			delete(r.pages, i)
		}
		indices = prefix
	}

	ids := make([]string, 0, r.count())
	for _, i := range indices {
		page := r.pages[i]
		ids = append(ids, page...)
		if len(page) < r.cfg.PageSize && i != lastIndex && len(page) > 0 {
			r.report.ShortPages = append(r.report.ShortPages, i)
		}
	}
	return ids
}

// finish fills in the derived report fields.
func (r *run) finish(ids []string, lastIndex int) {
	sort.Ints(r.report.Starts)
	sort.Ints(r.report.SkippedPages)
	sort.Ints(r.report.EmptyPages)

	r.report.Duplicates = countDuplicates(ids)
	if r.cfg.Dedupe {
		r.report.DuplicatesRemoved = r.report.Duplicates
	}

	known := r.cfg.TotalHint
	if r.report.ServerTotal >= 0 {
		known = r.report.ServerTotal
	}
	covered := (lastIndex + 1) * r.cfg.PageSize
	switch {
	case r.cfg.Policy != PolicyExhaust || r.report.Truncated:
		if known > covered {
			r.report.DroppedTail = known - covered
			r.report.Truncated = true
		}
	case r.stopErr == nil && len(r.report.SkippedPages) == 0 && r.latestTotal > len(ids):
		// exhaust covered the total but short pages left a gap
		r.report.DroppedTail = r.latestTotal - len(ids)
		r.report.Truncated = true
	}
}

func countDuplicates(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	dups := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			dups++
			continue
		}
		seen[id] = struct{}{}
	}
	return dups
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// longestRun returns the longest run of consecutive integers in sorted.
func longestRun(sorted []int) int {
	best, cur := 0, 0
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1]+1 {
			cur++
		} else {
			cur = 1
		}
		if cur > best {
			best = cur
		}
	}
	return best
}

func lowestFailure(results []pageResult) pageResult {
	var low pageResult
	found := false
	for _, res := range results {
		if res.err == nil {
			continue
		}
		if !found || res.index < low.index {
			low = res
			found = true
		}
	}
	return low
}
