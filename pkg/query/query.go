// Package query models RCSB Search API requests and responses and encodes
// requests into the `?json=` form the GET endpoint expects.
package query

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	// TypeTerminal is a leaf predicate in the search grammar.
	TypeTerminal = "terminal"

	// ServiceText is the full-text search service.
	ServiceText = "text"

	// ReturnTypeEntry requests PDB entry identifiers (e.g. "4HHB").
	ReturnTypeEntry = "entry"

	// jsonParam is the query parameter carrying the encoded request.
	jsonParam = "json"
)

// Terminal is the search predicate. With no Parameters it matches every
// entity of the requested return type.
type Terminal struct {
	Type    string `json:"type"`
	Service string `json:"service"`

	// Parameters is passed through verbatim when set. It is not built or
	// validated here.
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Paginate selects one page of the result set.
type Paginate struct {
	// Start is the zero-based offset of the first row.
	Start int `json:"start"`

	// Rows is the page size.
	Rows int `json:"rows"`
}

// RequestOptions holds the request_options block.
type RequestOptions struct {
	Paginate Paginate `json:"paginate"`
}

// Request is a complete search request.
type Request struct {
	Query          Terminal       `json:"query"`
	RequestOptions RequestOptions `json:"request_options"`
	ReturnType     string         `json:"return_type"`
}

// DefaultFilter returns the match-all text predicate.
func DefaultFilter() Terminal {
	return Terminal{Type: TypeTerminal, Service: ServiceText}
}

// New builds a request for the first page of rows results.
func New(filter Terminal, returnType string, rows int) Request {
	if returnType == "" {
		returnType = ReturnTypeEntry
	}
	return Request{
		Query:          filter,
		RequestOptions: RequestOptions{Paginate: Paginate{Start: 0, Rows: rows}},
		ReturnType:     returnType,
	}
}

// WithStart returns a copy of r positioned at start. The receiver is not
// modified.
func (r Request) WithStart(start int) Request {
	r.RequestOptions.Paginate.Start = start
	return r
}

// WithRows returns a copy of r with the page size set to rows.
func (r Request) WithRows(rows int) Request {
	r.RequestOptions.Paginate.Rows = rows
	return r
}

// Start returns the pagination offset.
func (r Request) Start() int { return r.RequestOptions.Paginate.Start }

// Rows returns the page size.
func (r Request) Rows() int { return r.RequestOptions.Paginate.Rows }

// Validate checks the fields the endpoint rejects outright.
func (r Request) Validate() error {
	if r.Query.Type == "" || r.Query.Service == "" {
		return fmt.Errorf("query type and service are required")
	}
	if r.ReturnType == "" {
		return fmt.Errorf("return_type is required")
	}
	if r.Rows() <= 0 {
		return fmt.Errorf("rows must be > 0 (got %d)", r.Rows())
	}
	if r.Start() < 0 {
		return fmt.Errorf("start must be >= 0 (got %d)", r.Start())
	}
	return nil
}

// Encode returns the compact JSON form of the request.
func (r Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

// URL returns base with the request attached as a percent-encoded json
// parameter. Existing query parameters on base are kept.
func (r Request) URL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q must be an absolute URL", base)
	}

	data, err := r.Encode()
	if err != nil {
		return "", err
	}

	params := u.Query()
	params.Set(jsonParam, string(data))
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Decode parses the value of a json= parameter, either raw or still
// percent-encoded.
func Decode(raw string) (Request, error) {
	var r Request
	if strings.HasPrefix(raw, "%7B") || strings.HasPrefix(raw, "%7b") {
		unescaped, err := url.QueryUnescape(raw)
		if err != nil {
			return r, fmt.Errorf("unescape request: %w", err)
		}
		raw = unescaped
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("unmarshal request: %w", err)
	}
	return r, nil
}

// FromURL extracts the request from a search URL produced by URL.
func FromURL(rawURL string) (Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("parse url: %w", err)
	}
	value := u.Query().Get(jsonParam)
	if value == "" {
		return Request{}, fmt.Errorf("url has no %s parameter", jsonParam)
	}
	return Decode(value)
}
