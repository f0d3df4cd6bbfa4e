package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoModelsAvailable is returned when every candidate model was skipped
// because its circuit was open, so no call was ever attempted.
var ErrNoModelsAvailable = errors.New("no models available: all circuits open")

// ErrNilResponse marks an operation that returned neither a response nor
// an error. Treated as a retryable provider failure so the fallback chain
// can move on.
var ErrNilResponse = errors.New("provider returned no response")

// ProviderError is an error reported by the completion provider. Status
// codes in the auth range mark a configuration problem, not model
// unavailability, and are never retried.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the error indicates transient unavailability.
func (e *ProviderError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return false
	}
	return true
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks an arbitrary error as non-retryable, aborting the
// retry loop and the fallback chain.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsRetryable classifies an error for the retry loop. Timeouts, transient
// provider failures, and anything unclassified are retryable; explicit
// non-retryable marks and provider auth failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nre *nonRetryableError
	if errors.As(err, &nre) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

// ErrorClass buckets a failure for degradation accounting.
type ErrorClass string

const (
	ClassTimeout      ErrorClass = "timeout"
	ClassAPIError     ErrorClass = "api_error"
	ClassNonRetryable ErrorClass = "non_retryable"
)

// Classify assigns an error to its degradation bucket.
func Classify(err error) ErrorClass {
	if !IsRetryable(err) {
		return ClassNonRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusRequestTimeout {
		return ClassTimeout
	}
	return ClassAPIError
}
