package pagination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(policy BoundaryPolicy, hint, size int) Config {
	cfg := DefaultConfig()
	cfg.Policy = policy
	cfg.TotalHint = hint
	cfg.PageSize = size
	cfg.RequestTimeout = 5 * time.Second
	cfg.Deadline = 30 * time.Second
	return cfg
}

func collect(t *testing.T, f PageFetcher, cfg Config) (Result, error) {
	t.Helper()
	acc, err := NewAccumulator(f, cfg)
	require.NoError(t, err)
	return acc.Collect(context.Background())
}

func TestNewAccumulator(t *testing.T) {
	_, err := NewAccumulator(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxConcurrency = 0
	acc, err := NewAccumulator(newFakeFetcher(1), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.Config().MaxConcurrency)

	cfg.PageSize = 0
	_, err = NewAccumulator(newFakeFetcher(1), cfg)
	assert.ErrorContains(t, err, "page size must be > 0")
}

func TestCollect_FloorDropsTrailingPage(t *testing.T) {
	f := newFakeFetcher(250)

	res, err := collect(t, f, testConfig(PolicyFloor, 250, 100))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 100}, f.requestedStarts())
	assert.Equal(t, 2, res.Report.Requests)
	assert.Equal(t, []int{0, 100}, res.Report.Starts)
	assert.Equal(t, 2, res.Report.PagesPlanned)
	assert.Len(t, res.Identifiers, 200)
	assert.Equal(t, f.ids[:200], res.Identifiers)

	assert.True(t, res.Report.Truncated)
	assert.Equal(t, 50, res.Report.DroppedTail)
	assert.False(t, res.Report.Complete())
}

func TestCollect_CeilAndExhaustFetchTail(t *testing.T) {
	for _, policy := range []BoundaryPolicy{PolicyCeil, PolicyExhaust} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFakeFetcher(250)

			res, err := collect(t, f, testConfig(policy, 250, 100))
			require.NoError(t, err)

			assert.Equal(t, []int{0, 100, 200}, f.requestedStarts())
			assert.Equal(t, f.ids, res.Identifiers)
			assert.False(t, res.Report.Truncated)
			assert.Zero(t, res.Report.DroppedTail)
			assert.Equal(t, 250, res.Report.ServerTotal)
			assert.True(t, res.Report.Complete())
		})
	}
}

func TestCollect_FloorRequestCountProperty(t *testing.T) {
	for total := 0; total <= 37; total++ {
		for size := 1; size <= 12; size++ {
			f := newFakeFetcher(total)
			res, err := collect(t, f, testConfig(PolicyFloor, total, size))
			require.NoError(t, err)

			pages := total / size
			require.Equal(t, expectedStarts(pages, size), f.requestedStarts(), "total=%d size=%d", total, size)
			require.Equal(t, pages, res.Report.Requests, "total=%d size=%d", total, size)
			require.Equal(t, pages*size, len(res.Identifiers), "total=%d size=%d", total, size)
			require.Equal(t, f.ids[:pages*size], res.Identifiers, "total=%d size=%d", total, size)
			require.Equal(t, total%size != 0, res.Report.Truncated, "total=%d size=%d", total, size)
			require.Equal(t, total%size, res.Report.DroppedTail, "total=%d size=%d", total, size)
		}
	}
}

func TestCollect_CompletePoliciesProperty(t *testing.T) {
	for _, policy := range []BoundaryPolicy{PolicyCeil, PolicyExhaust} {
		for total := 0; total <= 37; total++ {
			for size := 1; size <= 12; size++ {
				f := newFakeFetcher(total)
				res, err := collect(t, f, testConfig(policy, total, size))
				require.NoError(t, err)

				pages := PlanPages(PolicyCeil, total, size)
				if pages == 0 {
					pages = 1
				}
				require.Equal(t, expectedStarts(pages, size), f.requestedStarts(), "%s total=%d size=%d", policy, total, size)
				require.Equal(t, f.ids, res.Identifiers, "%s total=%d size=%d", policy, total, size)
				require.False(t, res.Report.Truncated, "%s total=%d size=%d", policy, total, size)
			}
		}
	}
}

func TestCollect_ExhaustWithoutServerTotal(t *testing.T) {
	f := newFakeFetcher(300)
	f.total = -1

	res, err := collect(t, f, testConfig(PolicyExhaust, 0, 100))
	require.NoError(t, err)

	// three full pages, then an empty one proves the end
	assert.Equal(t, []int{0, 100, 200, 300}, f.requestedStarts())
	assert.Equal(t, f.ids, res.Identifiers)
	assert.Equal(t, -1, res.Report.ServerTotal)
	assert.Equal(t, []int{3}, res.Report.EmptyPages)
}

func TestCollect_ExhaustShortPageBelowServerTotal(t *testing.T) {
	f := newFakeFetcher(250)
	f.override = map[int][]string{100: {}}

	res, err := collect(t, f, testConfig(PolicyExhaust, 0, 100))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 100, 200}, f.requestedStarts())
	assert.Equal(t, []int{1}, res.Report.EmptyPages)
	assert.Equal(t, 250, res.Report.ServerTotal)
	assert.Len(t, res.Identifiers, 150)
	assert.True(t, res.Report.Truncated)
	assert.Equal(t, 100, res.Report.DroppedTail)
	assert.False(t, res.Report.Complete())
}

func TestCollect_ExhaustIgnoresStaleHint(t *testing.T) {
	f := newFakeFetcher(430)

	res, err := collect(t, f, testConfig(PolicyExhaust, 250, 100))
	require.NoError(t, err)

	assert.Len(t, res.Identifiers, 430)
	assert.Equal(t, 430, res.Report.ServerTotal)
	assert.Equal(t, 250, res.Report.TotalHint)
}

func TestCollect_FloorReportsServerGrowth(t *testing.T) {
	f := newFakeFetcher(400)

	res, err := collect(t, f, testConfig(PolicyFloor, 250, 100))
	require.NoError(t, err)

	assert.Len(t, res.Identifiers, 200)
	assert.True(t, res.Report.Truncated)
	assert.Equal(t, 200, res.Report.DroppedTail)
}

func TestCollect_CeilUsesServerTotal(t *testing.T) {
	f := newFakeFetcher(430)

	res, err := collect(t, f, testConfig(PolicyCeil, 250, 100))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Report.PagesPlanned)
	assert.Equal(t, f.ids, res.Identifiers)
}

func TestCollect_CeilFallsBackToHint(t *testing.T) {
	f := newFakeFetcher(430)
	f.total = -1

	res, err := collect(t, f, testConfig(PolicyCeil, 250, 100))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Report.PagesPlanned)
	assert.Equal(t, f.ids[:300], res.Identifiers)
}

func TestCollect_EmptyPagesAreNotErrors(t *testing.T) {
	f := newFakeFetcher(0)
	f.total = -1

	res, err := collect(t, f, testConfig(PolicyFloor, 300, 100))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Report.Requests)
	assert.Empty(t, res.Identifiers)
	assert.NotNil(t, res.Identifiers)
	assert.Equal(t, []int{0, 1, 2}, res.Report.EmptyPages)
	assert.Equal(t, 3, res.Report.PagesFetched)
}

func TestCollect_LengthIsSumOfPages(t *testing.T) {
	f := newFakeFetcher(0)
	f.override = map[int][]string{
		0:  {"A", "B", "C"},
		10: {},
		20: {"D"},
		30: {"E", "F"},
	}

	res, err := collect(t, f, testConfig(PolicyFloor, 40, 10))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F"}, res.Identifiers)
	assert.Equal(t, []int{1}, res.Report.EmptyPages)
	assert.Equal(t, []int{0, 2}, res.Report.ShortPages)
}

func TestCollect_DuplicatesCountedNotRemoved(t *testing.T) {
	f := newFakeFetcher(0)
	f.override = map[int][]string{
		0: {"A", "B"},
		2: {"B", "C"},
	}

	res, err := collect(t, f, testConfig(PolicyFloor, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "B", "C"}, res.Identifiers)
	assert.Equal(t, 1, res.Report.Duplicates)
	assert.Zero(t, res.Report.DuplicatesRemoved)

	cfg := testConfig(PolicyFloor, 4, 2)
	cfg.Dedupe = true
	res, err = collect(t, f, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, res.Identifiers)
	assert.Equal(t, 1, res.Report.Duplicates)
	assert.Equal(t, 1, res.Report.DuplicatesRemoved)
	assert.Equal(t, 3, res.Report.Collected)
}

func TestCollect_AbortReturnsPrefix(t *testing.T) {
	boom := errors.New("upstream 500")
	f := newFakeFetcher(500)
	f.fail = map[int]error{200: boom}

	res, err := collect(t, f, testConfig(PolicyCeil, 500, 100))
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, fe.Page)
	assert.Equal(t, 200, fe.Start)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, f.ids[:200], res.Identifiers)
	assert.Equal(t, []int{0, 100, 200}, f.requestedStarts())
}

func TestCollect_SkipContinues(t *testing.T) {
	f := newFakeFetcher(500)
	f.fail = map[int]error{200: errors.New("upstream 500")}

	cfg := testConfig(PolicyCeil, 500, 100)
	cfg.OnError = OnSkip
	res, err := collect(t, f, cfg)
	require.NoError(t, err)

	want := append(append([]string{}, f.ids[:200]...), f.ids[300:]...)
	assert.Equal(t, want, res.Identifiers)
	assert.Equal(t, []int{2}, res.Report.SkippedPages)
	assert.Equal(t, 5, res.Report.Requests)
	assert.Equal(t, 4, res.Report.PagesFetched)
	assert.False(t, res.Report.Complete())
}

func TestCollect_SkipTooManyConsecutive(t *testing.T) {
	boom := errors.New("down")
	f := newFakeFetcher(1000)
	f.fail = map[int]error{100: boom, 200: boom, 300: boom}

	cfg := testConfig(PolicyExhaust, 1000, 100)
	cfg.OnError = OnSkip
	cfg.MaxConsecutiveFailures = 3
	res, err := collect(t, f, cfg)

	require.ErrorIs(t, err, ErrTooManyFailures)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Page)
	assert.Equal(t, []int{1, 2, 3}, res.Report.SkippedPages)
	assert.Equal(t, f.ids[:100], res.Identifiers)
	assert.Equal(t, []int{0, 100, 200, 300}, f.requestedStarts())
}

func TestCollect_PerRequestTimeout(t *testing.T) {
	f := newFakeFetcher(300)
	f.block = map[int]bool{100: true}

	cfg := testConfig(PolicyCeil, 300, 100)
	cfg.OnError = OnSkip
	cfg.RequestTimeout = 20 * time.Millisecond

	start := time.Now()
	res, err := collect(t, f, cfg)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, []int{1}, res.Report.SkippedPages)
	assert.Equal(t, append(append([]string{}, f.ids[:100]...), f.ids[200:]...), res.Identifiers)
}

func TestCollect_DeadlineAborts(t *testing.T) {
	f := newFakeFetcher(300)
	f.block = map[int]bool{100: true}

	cfg := testConfig(PolicyExhaust, 300, 100)
	cfg.RequestTimeout = 0
	cfg.Deadline = 30 * time.Millisecond

	res, err := collect(t, f, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, f.ids[:100], res.Identifiers)
}

func TestCollect_CallerCancellation(t *testing.T) {
	f := newFakeFetcher(300)
	f.block = map[int]bool{0: true}

	acc, err := NewAccumulator(f, testConfig(PolicyExhaust, 300, 100))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res, err := acc.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Identifiers)
}

func TestCollect_ConcurrentMatchesSequential(t *testing.T) {
	for _, policy := range []BoundaryPolicy{PolicyFloor, PolicyCeil} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFakeFetcher(1234)
			// later pages answer first
			f.delay = func(start int) time.Duration {
				return time.Duration(1300-start) * time.Microsecond * 10
			}

			seq, err := collect(t, newFakeFetcher(1234), testConfig(policy, 1234, 50))
			require.NoError(t, err)

			cfg := testConfig(policy, 1234, 50)
			cfg.MaxConcurrency = 8
			par, err := collect(t, f, cfg)
			require.NoError(t, err)

			assert.Equal(t, seq.Identifiers, par.Identifiers)
			assert.Equal(t, seq.Report.Starts, par.Report.Starts)
			assert.Equal(t, seq.Report.Requests, par.Report.Requests)
		})
	}
}

func TestCollect_ConcurrentAbortReturnsPrefix(t *testing.T) {
	boom := errors.New("upstream 502")
	f := newFakeFetcher(1000)
	f.fail = map[int]error{500: boom}
	f.delay = func(start int) time.Duration {
		if start > 500 {
			return 200 * time.Millisecond
		}
		return 0
	}

	cfg := testConfig(PolicyFloor, 1000, 100)
	cfg.MaxConcurrency = 3
	res, err := collect(t, f, cfg)

	require.ErrorIs(t, err, boom)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 5, fe.Page)

	// Pages in flight at the failure still complete, so the prefix ends at it.
	assert.Equal(t, f.ids[:500], res.Identifiers)
}

func TestCollect_ConcurrentAbortReportsLowestFailure(t *testing.T) {
	early := errors.New("upstream 502 on page 3")
	late := errors.New("upstream 502 on page 6")
	f := newFakeFetcher(1000)
	f.fail = map[int]error{300: early, 600: late}
	f.delay = func(start int) time.Duration {
		if start == 300 {
			return 150 * time.Millisecond
		}
		return 0
	}

	cfg := testConfig(PolicyFloor, 1000, 100)
	cfg.MaxConcurrency = 4
	res, err := collect(t, f, cfg)

	require.ErrorIs(t, err, early)
	assert.NotErrorIs(t, err, late)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Page)
	assert.Equal(t, 300, fe.Start)
	assert.Equal(t, f.ids[:300], res.Identifiers)
	assert.Equal(t, 300, res.Report.Collected)
}

func TestCollect_ConcurrentSkip(t *testing.T) {
	f := newFakeFetcher(1000)
	f.fail = map[int]error{300: errors.New("x"), 700: errors.New("y")}

	cfg := testConfig(PolicyFloor, 1000, 100)
	cfg.MaxConcurrency = 4
	cfg.OnError = OnSkip
	res, err := collect(t, f, cfg)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 7}, res.Report.SkippedPages)
	assert.Len(t, res.Identifiers, 800)
	assert.Equal(t, f.ids[:300], res.Identifiers[:300])
}

func TestCollect_ConcurrentSkipTooManyConsecutive(t *testing.T) {
	boom := errors.New("down")
	f := newFakeFetcher(1000)
	f.fail = map[int]error{300: boom, 400: boom}

	cfg := testConfig(PolicyFloor, 1000, 100)
	cfg.MaxConcurrency = 4
	cfg.OnError = OnSkip
	cfg.MaxConsecutiveFailures = 2
	_, err := collect(t, f, cfg)

	require.ErrorIs(t, err, ErrTooManyFailures)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Page)
}

func TestCollect_MaxPagesCapsExhaust(t *testing.T) {
	f := newFakeFetcher(1000)

	cfg := testConfig(PolicyExhaust, 1000, 100)
	cfg.MaxPages = 3
	res, err := collect(t, f, cfg)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 100, 200}, f.requestedStarts())
	assert.True(t, res.Report.Truncated)
	assert.Equal(t, 700, res.Report.DroppedTail)
}

func TestCollect_MaxPagesCapsPlan(t *testing.T) {
	f := newFakeFetcher(1000)

	cfg := testConfig(PolicyCeil, 1000, 100)
	cfg.MaxPages = 4
	res, err := collect(t, f, cfg)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Report.PagesPlanned)
	assert.Len(t, res.Identifiers, 400)
	assert.True(t, res.Report.Truncated)
	assert.Equal(t, 600, res.Report.DroppedTail)
}
