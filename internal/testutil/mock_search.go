// Package testutil provides an in-process stand-in for the RCSB search
// endpoint.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Sternrassler/pdb-ids/pkg/query"
)

// Failure makes requests for a start offset fail with StatusCode.
// Times <= 0 fails every request.
type Failure struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Times      int
}

// MockSearch serves paginated identifier pages from a synthetic dataset.
type MockSearch struct {
	server *httptest.Server

	mu       sync.Mutex
	dataset  []string
	total    *int
	failures map[int]*Failure
	handler  http.HandlerFunc
	delay    time.Duration

	// noContent answers empty pages with 204 instead of an empty result set.
	noContent bool

	requestCount      int
	starts            []int
	lastRequestHeader http.Header
}

// Identifiers returns n synthetic four-character identifiers.
func Identifiers(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%X", 0x1000+i)
	}
	return ids
}

// NewMockSearch starts a server holding n identifiers.
func NewMockSearch(n int) *MockSearch {
	m := &MockSearch{
		dataset:  Identifiers(n),
		failures: make(map[int]*Failure),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the search endpoint URL.
func (m *MockSearch) URL() string {
	return m.server.URL + "/rcsbsearch/v2/query"
}

// Close shuts down the server.
func (m *MockSearch) Close() {
	m.server.Close()
}

// Dataset returns a copy of the served identifiers.
func (m *MockSearch) Dataset() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dataset...)
}

// SetDataset replaces the served identifiers.
func (m *MockSearch) SetDataset(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset = append([]string(nil), ids...)
}

// SetTotal overrides the reported total_count. Negative omits the field.
func (m *MockSearch) SetTotal(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = &total
}

// SetNoContentWhenEmpty answers empty pages with HTTP 204.
func (m *MockSearch) SetNoContentWhenEmpty(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noContent = enabled
}

// SetDelay delays every response.
func (m *MockSearch) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailStart injects a failure for requests at the given start offset.
func (m *MockSearch) FailStart(start int, f Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[start] = &f
}

// SetHandler replaces the page logic entirely. Requests are still counted.
func (m *MockSearch) SetHandler(h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// RequestCount returns the number of requests served.
func (m *MockSearch) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// Starts returns the decoded start offsets in arrival order.
func (m *MockSearch) Starts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int{}, m.starts...)
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockSearch) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequestHeader
}

// Reset clears request tracking.
func (m *MockSearch) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.starts = nil
	m.lastRequestHeader = nil
}

func (m *MockSearch) serve(w http.ResponseWriter, r *http.Request) {
	req, decodeErr := query.Decode(r.URL.Query().Get("json"))

	m.mu.Lock()
	m.requestCount++
	m.lastRequestHeader = r.Header.Clone()
	if decodeErr == nil {
		m.starts = append(m.starts, req.Start())
	}
	handler := m.handler
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if handler != nil {
		handler(w, r)
		return
	}

	if decodeErr != nil {
		writeError(w, http.StatusBadRequest, decodeErr.Error())
		return
	}

	if f := m.takeFailure(req.Start()); f != nil {
		for k, v := range f.Headers {
			w.Header().Set(k, v)
		}
		if f.Body != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.StatusCode)
			w.Write([]byte(f.Body))
			return
		}
		writeError(w, f.StatusCode, http.StatusText(f.StatusCode))
		return
	}

	m.writePage(w, req.Start(), req.Rows())
}

func (m *MockSearch) takeFailure(start int) *Failure {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.failures[start]
	if !ok {
		return nil
	}
	if f.Times > 0 {
		f.Times--
		if f.Times == 0 {
			delete(m.failures, start)
		}
	}
	copied := *f
	return &copied
}

func (m *MockSearch) writePage(w http.ResponseWriter, start, rows int) {
	m.mu.Lock()
	total := len(m.dataset)
	reported := &total
	if m.total != nil {
		reported = m.total
	}
	var page []string
	if start < len(m.dataset) {
		end := min(start+rows, len(m.dataset))
		page = append(page, m.dataset[start:end]...)
	}
	noContent := m.noContent
	m.mu.Unlock()

	if len(page) == 0 && noContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := query.Response{
		QueryID:    "mock-query",
		ResultType: query.ReturnTypeEntry,
		ResultSet:  make([]query.Record, 0, len(page)),
	}
	if *reported >= 0 {
		t := *reported
		resp.TotalCount = &t
	}
	for i, id := range page {
		resp.ResultSet = append(resp.ResultSet, query.Record{
			Identifier: id,
			Score:      1 - float64(start+i)/float64(total+1),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"message": message,
	})
}
