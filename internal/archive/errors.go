package archive

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// HTTPError is a non-success response from the archive service.
type HTTPError struct {
	Operation  string // The operation that failed (e.g. "status", "download")
	StatusCode int    // HTTP status code
	Message    string // Response body excerpt or status text
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
}

// Transient reports whether retrying the same request later may succeed.
func (e *HTTPError) Transient() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// MalformedResponseError is a success response whose body could not be
// interpreted.
type MalformedResponseError struct {
	Operation string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Operation, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a network timeout or a transient HTTP
// status. Everything else, including a cancelled context, is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
