package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
)

// Call describes one logical API call.
type Call struct {
	Method string
	// Path is relative to the client's base URL and starts with "/".
	Path  string
	Query url.Values
	// Body is JSON-encoded once; a []byte is sent verbatim.
	Body   any
	Header http.Header
	// Accept lists non-2xx statuses returned as a Response instead of an error.
	Accept []int
}

func (c Call) method() string {
	if c.Method == "" {
		return http.MethodGet
	}
	return c.Method
}

// Idempotent reports whether repeating the call has no additional effect.
func (c Call) Idempotent() bool {
	switch c.method() {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (c Call) accepts(status int) bool {
	return slices.Contains(c.Accept, status)
}

func (c Call) encodeBody() ([]byte, error) {
	switch b := c.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode %s %s body: %w", c.method(), c.Path, err)
		}
		return data, nil
	}
}
