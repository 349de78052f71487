package transport

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetworkUnavailable means the backend could not be reached at all.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrNotFound is a 404 from the backend. For sensor reads it means
	// "no reading yet", not a failure.
	ErrNotFound = errors.New("not found")

	// ErrMalformedPayload means a 2xx body had an unexpected shape.
	ErrMalformedPayload = errors.New("malformed payload")
)

// RejectedError is a non-2xx answer from the backend. Message carries the
// body's "error" or "detail" field verbatim when present. A 404 also
// matches ErrNotFound.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected request: status %d", e.StatusCode)
	}
	return e.Message
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Cause returns the user-facing text for a transport failure: the backend's
// own message when it sent one, otherwise a generic description.
func Cause(err error) string {
	var rej *RejectedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rej) && (rej.Message != "" || rej.StatusCode != http.StatusNotFound):
		return rej.Error()
	case errors.Is(err, ErrNetworkUnavailable):
		return "backend unreachable"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrMalformedPayload):
		return "unexpected response from backend"
	default:
		return err.Error()
	}
}
