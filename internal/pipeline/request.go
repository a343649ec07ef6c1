package pipeline

import (
	"net/http"
	"strings"
)

// Request is the mutable per-request state passed through every stage.
//
// Stages fill in the parsed fields as the request moves down the pipeline:
// body parsing sets Body, query parsing sets Query, auth resolution sets User
// and Token. A Request is owned by one dispatch and is never shared between
// goroutines.
type Request struct {
	Method string
	Path   string
	Header http.Header

	// RawQuery is the undecoded query string, without '?'.
	RawQuery string

	// Query holds decoded query parameters once a query stage ran.
	Query map[string]any

	// Body holds the decoded request payload once a body stage ran.
	Body any

	User    map[string]any
	Token   map[string]any
	Product map[string]any

	// Values carries anything else stages want to hand down.
	Values map[string]any

	// HTTP is the transport request. Nil when dispatched directly.
	HTTP *http.Request
}

// FromHTTP builds a Request from r. Body and query are left undecoded.
func FromHTTP(r *http.Request) *Request {
	return &Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		Header:   r.Header,
		RawQuery: r.URL.RawQuery,
		HTTP:     r,
	}
}

// NewRequest returns a Request for method and target. A query string in
// target goes to RawQuery.
func NewRequest(method, target string) *Request {
	path, query, _ := strings.Cut(target, "?")

	return &Request{
		Method:   method,
		Path:     path,
		RawQuery: query,
		Header:   make(http.Header),
	}
}

// Cookie returns the value of the named cookie, or "".
func (r *Request) Cookie(name string) string {
	if r.Header == nil {
		return ""
	}

	c, err := (&http.Request{Header: r.Header}).Cookie(name)
	if err != nil {
		return ""
	}

	return c.Value
}

// BodyMap returns Body as an object, or nil if it is not one.
func (r *Request) BodyMap() map[string]any {
	m, _ := r.Body.(map[string]any)

	return m
}

// Set stores v under key in Values.
func (r *Request) Set(key string, v any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}

	r.Values[key] = v
}

// Value returns the value stored under key, or nil.
func (r *Request) Value(key string) any {
	return r.Values[key]
}
