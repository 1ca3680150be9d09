package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned when the backend answers with a status the call
// did not accept. A 401 that survived the refresh cycle has Status 401.
type StatusError struct {
	Method     string
	Path       string
	Status     int
	StatusText string
	Body       string
	// Refreshed is true when a session refresh succeeded before this status.
	Refreshed bool
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("apiclient: %s %s: %d %s", e.Method, e.Path, e.Status, e.StatusText)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func newStatusError(call Call, resp *Response, refreshed bool) *StatusError {
	return &StatusError{
		Method:     call.method(),
		Path:       call.Path,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(resp.Body),
		Refreshed:  refreshed,
	}
}

// IsUnauthorized reports whether err is a StatusError carrying 401.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}
