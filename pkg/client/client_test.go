package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/pdb-ids/pkg/query"
)

// newTestClient points a client with fast retries at server.
func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Endpoint = server.URL + "/rcsbsearch/v2/query"
	cfg.UserAgent = "pdb-ids-test/1.0"
	cfg.Retry = fastRetry()
	cfg.Base = query.New(query.DefaultFilter(), query.ReturnTypeEntry, 10)

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func writePage(w http.ResponseWriter, total int, ids ...string) {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"identifier":%q,"score":1.0}`, id)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"query_id":"q","result_type":"entry","total_count":%d,"result_set":[%s]}`, total, b.String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q, want %q", cfg.Endpoint, DefaultEndpoint)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should have a default")
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Timeout)
	}
	if cfg.Base.Rows() != 10000 {
		t.Errorf("Base rows = %d, want 10000", cfg.Base.Rows())
	}
	if cfg.Cache != nil {
		t.Error("Cache should be disabled by default")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"relative endpoint", func(c *Config) { c.Endpoint = "/query" }, "endpoint must be an absolute URL"},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, "user-agent is required"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout must be > 0"},
		{"bad retry", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry max attempts"},
		{"zero rows", func(c *Config) { c.Base = c.Base.WithRows(0) }, "base request rows must be > 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			client, err := New(cfg)
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if client == nil {
					t.Fatal("Expected client, got nil")
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Error message = %q, want substring %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestSearch_RequestShape(t *testing.T) {
	var gotUA, gotAccept, gotPath string
	var gotReq query.Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		req, err := query.Decode(r.URL.Query().Get("json"))
		if err != nil {
			t.Errorf("server could not decode json param: %v", err)
		}
		gotReq = req
		writePage(w, 25, "1ABC", "2DEF")
	}))
	defer server.Close()

	c := newTestClient(t, server)
	resp, err := c.Search(context.Background(), c.Config().Base.WithStart(20))
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}

	if gotUA != "pdb-ids-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotPath != "/rcsbsearch/v2/query" {
		t.Errorf("Path = %q", gotPath)
	}
	if gotReq.Start() != 20 || gotReq.Rows() != 10 {
		t.Errorf("paginate = (%d, %d), want (20, 10)", gotReq.Start(), gotReq.Rows())
	}
	if gotReq.ReturnType != query.ReturnTypeEntry {
		t.Errorf("return_type = %q", gotReq.ReturnType)
	}

	if got := resp.Identifiers(); len(got) != 2 || got[0] != "1ABC" || got[1] != "2DEF" {
		t.Errorf("Identifiers() = %v", got)
	}
	if resp.Total() != 25 {
		t.Errorf("Total() = %d, want 25", resp.Total())
	}
}

func TestSearch_NoContentIsEmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	resp, err := c.Search(context.Background(), c.Config().Base)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if ids := resp.Identifiers(); len(ids) != 0 {
		t.Errorf("Identifiers() = %v, want empty", ids)
	}
	if resp.Total() != 0 {
		t.Errorf("Total() = %d, want 0", resp.Total())
	}
}

func TestSearch_EmptyBodyIsDecodeError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	resp, err := c.Search(context.Background(), c.Config().Base)
	if err == nil {
		t.Fatalf("Search() = %v, want error for empty 200 body", resp)
	}
	if got := ClassOf(err); got != ErrorClassDecode {
		t.Errorf("ClassOf(err) = %q, want %q (err=%v)", got, ErrorClassDecode, err)
	}
	if !errors.Is(err, errEmptyBody) {
		t.Errorf("errors.Is(err, errEmptyBody) = false, err=%v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestSearch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		expected     ErrorClass
		wantAttempts int32
		exhausted    bool
	}{
		{"client error", 400, ErrorClassClient, 1, false},
		{"not found", 404, ErrorClassClient, 1, false},
		{"server error", 500, ErrorClassServer, 3, true},
		{"bad gateway", 502, ErrorClassServer, 3, true},
		{"rate limit", 429, ErrorClassRateLimit, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(`{"status":` + fmt.Sprint(tt.statusCode) + `,"message":"nope"}`))
			}))
			defer server.Close()

			c := newTestClient(t, server)
			_, err := c.Search(context.Background(), c.Config().Base)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}

			var se *SearchError
			if !errors.As(err, &se) {
				t.Fatalf("Expected *SearchError in chain, got %T: %v", err, err)
			}
			if se.ErrorClass != tt.expected {
				t.Errorf("ErrorClass = %q, want %q", se.ErrorClass, tt.expected)
			}
			if se.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", se.StatusCode, tt.statusCode)
			}
			if !strings.Contains(se.Message, "nope") {
				t.Errorf("Message = %q, want service message", se.Message)
			}
			if got := atomic.LoadInt32(&attempts); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
			if errors.Is(err, ErrRetryExhausted) != tt.exhausted {
				t.Errorf("ErrRetryExhausted = %v, want %v", errors.Is(err, ErrRetryExhausted), tt.exhausted)
			}
		})
	}
}

func TestSearch_RetryOnServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writePage(w, 1, "9XYZ")
	}))
	defer server.Close()

	c := newTestClient(t, server)
	resp, err := c.Search(context.Background(), c.Config().Base)
	if err != nil {
		t.Fatalf("Search() failed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if ids := resp.Identifiers(); len(ids) != 1 || ids[0] != "9XYZ" {
		t.Errorf("Identifiers() = %v", ids)
	}
}

func TestSearch_RateLimitDefersThrottle(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writePage(w, 0)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	start := time.Now()
	if _, err := c.Search(context.Background(), c.Config().Base); err != nil {
		t.Fatalf("Search() failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("elapsed = %v, want the Retry-After second to be honoured", elapsed)
	}
	if c.Throttle().State().DeferredUntil.IsZero() {
		t.Error("throttle was not deferred")
	}
}

func TestSearch_DecodeError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.Search(context.Background(), c.Config().Base)

	if got := ClassOf(err); got != ErrorClassDecode {
		t.Errorf("ClassOf(err) = %q, want %q (err=%v)", got, ErrorClassDecode, err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1 (decode errors are not retried)", got)
	}
}

func TestSearch_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, server)
	server.Close()

	_, err := c.Search(context.Background(), c.Config().Base)
	if got := ClassOf(err); got != ErrorClassNetwork {
		t.Errorf("ClassOf(err) = %q, want %q", got, ErrorClassNetwork)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
}

func TestSearch_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient(t, server)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, c.Config().Base)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded in chain, got %v", err)
	}
}

func TestSearch_InvalidRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid request must not reach the server")
	}))
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.Search(context.Background(), c.Config().Base.WithStart(-1))
	if got := ClassOf(err); got != ErrorClassClient {
		t.Errorf("ClassOf(err) = %q, want %q", got, ErrorClassClient)
	}
}

func TestRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, 1, "1ABC")
	}))
	defer server.Close()

	c := newTestClient(t, server)
	body, err := c.Raw(context.Background(), c.Config().Base)
	if err != nil {
		t.Fatalf("Raw() failed: %v", err)
	}
	if !strings.Contains(string(body), `"identifier":"1ABC"`) {
		t.Errorf("Raw() body = %s", body)
	}
}

func TestFetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ := query.Decode(r.URL.Query().Get("json"))
		writePage(w, 42, fmt.Sprintf("S%d", req.Start()), fmt.Sprintf("R%d", req.Rows()))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	page, err := c.FetchPage(context.Background(), 30, 7)
	if err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}
	if page.TotalCount != 42 {
		t.Errorf("TotalCount = %d, want 42", page.TotalCount)
	}
	if len(page.Identifiers) != 2 || page.Identifiers[0] != "S30" || page.Identifiers[1] != "R7" {
		t.Errorf("Identifiers = %v, want [S30 R7]", page.Identifiers)
	}
}

func TestFetchPage_MissingTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result_set":[{"identifier":"1ABC","score":1}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	page, err := c.FetchPage(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}
	if page.TotalCount != -1 {
		t.Errorf("TotalCount = %d, want -1 (unknown)", page.TotalCount)
	}
}

func TestCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ := query.Decode(r.URL.Query().Get("json"))
		if req.Rows() != 1 {
			t.Errorf("Count requested %d rows, want 1", req.Rows())
		}
		writePage(w, 215908, "1ABC")
	}))
	defer server.Close()

	c := newTestClient(t, server)
	total, err := c.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if total != 215908 {
		t.Errorf("Count() = %d, want 215908", total)
	}
}

func TestSearch_MinInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, 0)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = server.URL
	cfg.Retry = fastRetry()
	cfg.MinInterval = 30 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Search(context.Background(), cfg.Base); err != nil {
			t.Fatalf("Search() #%d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("3 requests took %v, want >= 60ms with 30ms spacing", elapsed)
	}
}
