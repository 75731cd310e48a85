package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// fakeFetcher serves windows of a fixed identifier list.
type fakeFetcher struct {
	mu     sync.Mutex
	ids    []string
	total  int // reported total; -1 omits it
	starts []int

	fail     map[int]error    // by start
	override map[int][]string // by start
	block    map[int]bool     // by start: wait for ctx
	delay    func(start int) time.Duration
}

func newFakeFetcher(n int) *fakeFetcher {
	return &fakeFetcher{ids: makeIDs(n), total: n}
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%04X", i)
	}
	return ids
}

func (f *fakeFetcher) FetchPage(ctx context.Context, start, rows int) (Page, error) {
	f.mu.Lock()
	f.starts = append(f.starts, start)
	failErr := f.fail[start]
	override, overridden := f.override[start]
	block := f.block[start]
	var d time.Duration
	if f.delay != nil {
		d = f.delay(start)
	}
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-ctx.Done():
			return Page{}, ctx.Err()
		case <-time.After(d):
		}
	}
	if block {
		<-ctx.Done()
		return Page{}, ctx.Err()
	}
	if failErr != nil {
		return Page{}, failErr
	}
	if overridden {
		return Page{Identifiers: append([]string(nil), override...), TotalCount: f.total}, nil
	}

	if start >= len(f.ids) {
		return Page{Identifiers: []string{}, TotalCount: f.total}, nil
	}
	end := start + rows
	if end > len(f.ids) {
		end = len(f.ids)
	}
	return Page{Identifiers: append([]string(nil), f.ids[start:end]...), TotalCount: f.total}, nil
}

func (f *fakeFetcher) requestedStarts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int{}, f.starts...)
	sort.Ints(out)
	return out
}

func expectedStarts(pages, size int) []int {
	out := make([]int, pages)
	for i := range out {
		out[i] = i * size
	}
	return out
}
