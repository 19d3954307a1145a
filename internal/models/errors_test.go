package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestProcessingErrorClassification(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewStoreError("redis unreachable", cause)

	if ClassOf(err) != ErrTransientStore {
		t.Errorf("class = %s, want %s", ClassOf(err), ErrTransientStore)
	}
	if !err.Retryable() {
		t.Error("store errors must be retryable")
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap chain broken")
	}

	wrapped := fmt.Errorf("handle event: %w", err)
	if ClassOf(wrapped) != ErrTransientStore {
		t.Error("ClassOf should see through wrapping")
	}
}

func TestValidationErrorsAreTerminal(t *testing.T) {
	err := NewValidationError("missing asset_id")
	if err.Retryable() {
		t.Error("validation errors must not be retryable")
	}
	if ClassOf(err) != ErrValidation {
		t.Errorf("class = %s", ClassOf(err))
	}
}

func TestClassOfUnwrappedError(t *testing.T) {
	if got := ClassOf(errors.New("boom")); got != ErrUnknown {
		t.Errorf("class = %s, want %s", got, ErrUnknown)
	}
}

func TestRetryableStatus(t *testing.T) {
	retryable := []int{http.StatusTooManyRequests, http.StatusRequestTimeout, 500, 502, 503}
	for _, status := range retryable {
		if !RetryableStatus(status) {
			t.Errorf("status %d should be retryable", status)
		}
	}
	terminal := []int{200, 400, 401, 404, 422}
	for _, status := range terminal {
		if RetryableStatus(status) {
			t.Errorf("status %d should not be retryable", status)
		}
	}
}

func TestTransientNetworkError(t *testing.T) {
	if !TransientNetworkError(errors.New("read tcp: i/o timeout")) {
		t.Error("timeout should be transient")
	}
	if TransientNetworkError(errors.New("invalid api key")) {
		t.Error("auth failure is not transient")
	}
	if TransientNetworkError(nil) {
		t.Error("nil is not an error")
	}
}
