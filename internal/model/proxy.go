// Package model defines shared types for the forwarder.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ForwardRequest represents an inbound request to be forwarded upstream.
type ForwardRequest struct {
	Ctx    context.Context
	Method string
	// Path is the escaped upstream path; it always starts with "/".
	Path   string
	Query  Query
	Header http.Header
	// Body is read only for methods other than GET and HEAD.
	Body io.Reader
	// InboundOrigin is scheme://host as seen by the caller.
	InboundOrigin string
}

// ForwardResponse represents the upstream response to be streamed back.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// QueryParam is a single key/value pair of a query string.
type QueryParam struct {
	Key   string
	Value string
}

// Query is an ordered list of query parameters. Unlike url.Values it keeps
// the relative order of distinct keys.
type Query []QueryParam

// ParseQuery splits a raw query string into ordered parameters. Segments that
// fail to unescape are kept verbatim rather than dropped.
func ParseQuery(raw string) Query {
	var q Query
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		q = append(q, QueryParam{Key: unescape(key), Value: unescape(value)})
	}
	return q
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// Encode returns the query in its original order.
func (q Query) Encode() string {
	var b strings.Builder
	for i, p := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// Values returns every value of key in order.
func (q Query) Values(key string) []string {
	var out []string
	for _, p := range q {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	return out
}
