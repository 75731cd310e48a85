// Package client provides the search HTTP client with throttling, caching,
// retry and error classification.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/pdb-ids/pkg/cache"
	"github.com/Sternrassler/pdb-ids/pkg/pagination"
	"github.com/Sternrassler/pdb-ids/pkg/query"
	"github.com/Sternrassler/pdb-ids/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultEndpoint is the public RCSB search endpoint.
const DefaultEndpoint = "https://search.rcsb.org/rcsbsearch/v2/query"

// DefaultUserAgent identifies the tool to the search service.
const DefaultUserAgent = "pdb-ids/dev (+https://github.com/Sternrassler/pdb-ids)"

// maxBodyBytes bounds a single response body.
const maxBodyBytes = 64 << 20

// Client is the search client.
type Client struct {
	httpClient *http.Client
	throttle   *ratelimit.Throttle
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the search URL without query string.
	Endpoint string

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration

	// Retry policy for retriable error classes.
	Retry RetryConfig

	// MinInterval spaces consecutive requests. Zero disables spacing.
	MinInterval time.Duration

	// Cache is optional; nil disables page caching.
	Cache *cache.Manager

	// Base is the request template used by FetchPage and Count.
	Base query.Request
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:    DefaultEndpoint,
		UserAgent:   DefaultUserAgent,
		Timeout:     60 * time.Second,
		Retry:       DefaultRetryConfig(),
		MinInterval: 0,
		Base:        query.New(query.DefaultFilter(), query.ReturnTypeEntry, 10000),
	}
}

// New creates a new search client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", cfg.Endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint must be an absolute URL (got %q)", cfg.Endpoint)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %v)", cfg.Timeout)
	}

	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	if cfg.Base.Rows() <= 0 {
		return nil, fmt.Errorf("base request rows must be > 0 (got %d)", cfg.Base.Rows())
	}

	logger := log.With().Str("component", "search-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		throttle: ratelimit.NewThrottle(cfg.MinInterval, logger),
		cache:    cfg.Cache,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Search performs one search request and decodes the result set.
// HTTP 204 No Content is returned as an empty response with a total of 0.
// Any other 2xx without a body is a decode error.
func (c *Client) Search(ctx context.Context, req query.Request) (*query.Response, error) {
	status, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := decodeResponse(status, body)
	if err != nil {
		searchErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		c.logger.Error().
			Err(err).
			Int("start", req.Start()).
			Int("rows", req.Rows()).
			Str("error_class", string(ErrorClassDecode)).
			Msg("Failed to decode search response")
		return nil, &SearchError{
			StatusCode: status,
			ErrorClass: ErrorClassDecode,
			Message:    "decode response body",
			Err:        err,
		}
	}

	return resp, nil
}

// Raw performs one search request and returns the undecoded body.
func (c *Client) Raw(ctx context.Context, req query.Request) ([]byte, error) {
	_, body, err := c.do(ctx, req)
	return body, err
}

// FetchPage requests the window [start, start+rows) of the base query.
func (c *Client) FetchPage(ctx context.Context, start, rows int) (pagination.Page, error) {
	resp, err := c.Search(ctx, c.config.Base.WithStart(start).WithRows(rows))
	if err != nil {
		return pagination.Page{}, err
	}
	return pagination.Page{
		Identifiers: resp.Identifiers(),
		TotalCount:  resp.Total(),
	}, nil
}

// Count returns the server-reported total for the base query, or -1 when
// the server omitted it.
func (c *Client) Count(ctx context.Context) (int, error) {
	resp, err := c.Search(ctx, c.config.Base.WithStart(0).WithRows(1))
	if err != nil {
		return 0, err
	}
	return resp.Total(), nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// Throttle returns the request throttle (for inspection).
func (c *Client) Throttle() *ratelimit.Throttle {
	return c.throttle
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// do runs the throttle, cache and retry pipeline for one request and
// returns the final status code and body.
func (c *Client) do(ctx context.Context, req query.Request) (int, []byte, error) {
	if err := req.Validate(); err != nil {
		return 0, nil, &SearchError{ErrorClass: ErrorClassClient, Message: "invalid request", Err: err}
	}

	encoded, err := req.Encode()
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}
	target, err := req.URL(c.config.Endpoint)
	if err != nil {
		return 0, nil, fmt.Errorf("build request url: %w", err)
	}

	cacheKey := cache.Key{Endpoint: c.config.Endpoint, Query: encoded}
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.logger.Debug().
				Int("start", req.Start()).
				Int("rows", req.Rows()).
				Msg("Search page served from cache")
			return entry.StatusCode, entry.Data, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Msg("Cache get error")
		}
	}

	var (
		status int
		body   []byte
	)

	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, func(attempt int) (ErrorClass, error) {
		if err := c.throttle.Wait(ctx); err != nil {
			return ErrorClassNetwork, err
		}

		var (
			errClass ErrorClass
			reqErr   error
		)
		status, body, errClass, reqErr = c.roundTrip(ctx, target)
		if reqErr != nil {
			searchErrorsTotal.WithLabelValues(string(errClass)).Inc()
			c.logger.Warn().
				Err(reqErr).
				Int("start", req.Start()).
				Int("rows", req.Rows()).
				Int("attempt", attempt).
				Int("status", status).
				Str("error_class", string(errClass)).
				Msg("Search request failed")
		}
		return errClass, reqErr
	})
	if retryErr != nil {
		return 0, nil, retryErr
	}

	if c.cache != nil && (len(body) > 0 || status == http.StatusNoContent) {
		entry := cache.NewEntry(body, status, c.cache.TTL())
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return status, body, nil
}

// roundTrip performs a single GET and classifies the outcome.
func (c *Client) roundTrip(ctx context.Context, target string) (int, []byte, ErrorClass, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, ErrorClassClient, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	searchRequestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		searchRequestsTotal.WithLabelValues("network_error").Inc()
		return 0, nil, ErrorClassNetwork, &SearchError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	searchRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, ErrorClassNetwork, &SearchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, body, "", nil
	}

	errClass := classifyStatus(resp.StatusCode)
	if errClass == ErrorClassRateLimit {
		c.throttle.Defer(ratelimit.ParseRetryAfter(resp.Header, time.Now()))
	}

	return resp.StatusCode, nil, errClass, &SearchError{
		StatusCode: resp.StatusCode,
		ErrorClass: errClass,
		Message:    errorMessage(resp.Status, body),
	}
}

// errEmptyBody marks a 2xx response other than 204 that carried no body.
var errEmptyBody = errors.New("empty response body")

// decodeResponse parses a successful body. Only 204 is an empty page.
func decodeResponse(status int, body []byte) (*query.Response, error) {
	if status == http.StatusNoContent {
		zero := 0
		return &query.Response{TotalCount: &zero, ResultSet: []query.Record{}}, nil
	}
	if len(body) == 0 {
		return nil, errEmptyBody
	}

	var resp query.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.ResultSet == nil {
		resp.ResultSet = []query.Record{}
	}
	return &resp, nil
}

// errorMessage prefers the service's own message when the body carries one.
func errorMessage(status string, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return status + ": " + payload.Message
	}
	return status
}
