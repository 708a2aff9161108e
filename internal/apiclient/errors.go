package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is returned for any non-2xx response
type HTTPError struct {
	Status     int
	StatusText string

	// Message extracted from JSON "message" field or text body
	Message string

	// Parsed JSON error payload, nil if response was not JSON
	Data any

	// Raw response body
	Body []byte
}

func (e *HTTPError) Error() string {
	return e.Message
}

// TransportError is returned when request never produced a usable response:
// network failure, payload encoding or response parsing error
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode returns status of HTTPError in err chain or 0
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// IsUnauthorized reports whether err chain holds HTTP 401
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
