package dify

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recoverable failure classes. Callers branch on
// these with errors.Is to pick a recovery strategy.
var (
	// ErrSessionExpired maps HTTP 404: the conversation id no longer exists
	// on the server.
	ErrSessionExpired = errors.New("dify: conversation not found")

	// ErrMalformedRequest maps HTTP 400: the server rejected the request
	// payload, usually a conversation id bound to another app.
	ErrMalformedRequest = errors.New("dify: malformed request")

	// ErrServiceUnavailable maps HTTP 5xx.
	ErrServiceUnavailable = errors.New("dify: service unavailable")
)

// StatusError is a non-2xx response outside the classified ranges.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dify: unexpected status %d: %s", e.Status, e.Body)
}

// classifyStatus maps an HTTP status to the matching sentinel, or a
// StatusError for everything else.
func classifyStatus(status int, body string) error {
	switch {
	case status == 404:
		return fmt.Errorf("%w: %s", ErrSessionExpired, body)
	case status == 400:
		return fmt.Errorf("%w: %s", ErrMalformedRequest, body)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, status, body)
	default:
		return &StatusError{Status: status, Body: body}
	}
}
