// Package apperr defines the error taxonomy shared by the ledger, the
// feedback store and the HTTP gateway.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed client input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// LimitReachedError is returned when an email has used every permitted attempt.
// It carries the current counts so callers can render remaining attempts.
type LimitReachedError struct {
	Attempts    int
	MaxAttempts int
}

func (e *LimitReachedError) Error() string {
	return "Interview limit reached"
}

// ConnectionError wraps a storage backend that could not be reached.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection failed: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned by lookup-only operations.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// Status maps err to an HTTP status. limitStatus is the configured
// limit-reached status (403 or 429).
func Status(err error, limitStatus int) int {
	var (
		verr  *ValidationError
		lerr  *LimitReachedError
		cerr  *ConnectionError
		nferr *NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &lerr):
		return limitStatus
	case errors.As(err, &cerr):
		return http.StatusServiceUnavailable
	case errors.As(err, &nferr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
