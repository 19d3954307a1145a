package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass classifies processing failures for retry decisions.
type ErrorClass string

const (
	// ErrValidation - malformed event. Retrying cannot fix the payload,
	// so the event is dead-lettered immediately.
	ErrValidation ErrorClass = "validation"

	// ErrTransientStore - context/ledger/analytics store unreachable.
	// Retried in place with backoff, bounded by the retry ceiling.
	ErrTransientStore ErrorClass = "transient_store"

	// ErrRefreshFailure - collector unreachable during a context
	// refresh. The loop degrades to the stale segment and continues;
	// this class never fails an event on its own.
	ErrRefreshFailure ErrorClass = "refresh_failure"

	// ErrModelUnavailable - both model backends exhausted. The event is
	// retried with backoff and eventually dead-lettered.
	ErrModelUnavailable ErrorClass = "model_unavailable"

	// ErrPoison - the event failed repeatedly regardless of cause and
	// was routed to the dead-letter stream to avoid head-of-line
	// blocking.
	ErrPoison ErrorClass = "poison"

	// ErrUnknown - unclassified failure, treated as retryable so the
	// ordering guarantee is preserved.
	ErrUnknown ErrorClass = "unknown"
)

// ProcessingError wraps a failure with its class so the loop can decide
// between retry-in-place and dead-letter without inspecting backend
// error strings.
type ProcessingError struct {
	Class   ErrorClass
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether retrying the event can make progress.
// Only validation errors are terminal on first sight; everything else
// is retried until the ceiling.
func (e *ProcessingError) Retryable() bool {
	return e.Class != ErrValidation
}

// NewValidationError builds a terminal malformed-event error.
func NewValidationError(msg string) *ProcessingError {
	return &ProcessingError{Class: ErrValidation, Message: msg}
}

// NewStoreError wraps a store failure as retryable.
func NewStoreError(msg string, cause error) *ProcessingError {
	return &ProcessingError{Class: ErrTransientStore, Message: msg, Cause: cause}
}

// NewRefreshError wraps a collector refresh failure. The resolver logs
// it and continues with stale context.
func NewRefreshError(msg string, cause error) *ProcessingError {
	return &ProcessingError{Class: ErrRefreshFailure, Message: msg, Cause: cause}
}

// NewModelUnavailableError signals both backends were exhausted.
func NewModelUnavailableError(msg string, cause error) *ProcessingError {
	return &ProcessingError{Class: ErrModelUnavailable, Message: msg, Cause: cause}
}

// ClassOf extracts the error class, defaulting to unknown.
func ClassOf(err error) ErrorClass {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ErrUnknown
}

// RetryableStatus reports whether an HTTP status from a backend is
// worth retrying (rate limits, server and gateway errors).
func RetryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500 && status < 600:
		return true
	}
	return false
}

// TransientNetworkError reports whether the error text looks like a
// connection-level failure that may succeed on retry.
func TransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, marker := range []string{
		"context deadline exceeded",
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"EOF",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
