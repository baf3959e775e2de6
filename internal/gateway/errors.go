package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors returned by Gateway implementations.
var (
	// ErrInvalidResponse is returned when the provider answer cannot be parsed or is incomplete.
	ErrInvalidResponse = errors.New("invalid response from inference provider")

	// ErrRejected is returned when the provider refuses the request itself (4xx).
	ErrRejected = errors.New("request rejected by inference provider")

	// ErrContentBlocked is returned when the provider blocks the content due to safety filters.
	ErrContentBlocked = errors.New("content blocked by provider safety filters")

	// ErrInvalidConfig is returned when a gateway cannot be constructed.
	ErrInvalidConfig = errors.New("invalid gateway configuration")
)

// ExternalServiceError is a transient provider failure: timeout, connection
// error, 5xx or rate limiting. The task that hit it is retried with backoff.
type ExternalServiceError struct {
	Op         string
	StatusCode int // 0 when no HTTP response was received
	RetryAfter time.Duration
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: provider returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext)
}

// StatusError classifies a non-2xx provider response.
func StatusError(op string, status int, body string, retryAfter time.Duration) error {
	if len(body) > 512 {
		body = body[:512]
	}
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return &ExternalServiceError{
			Op:         op,
			StatusCode: status,
			RetryAfter: retryAfter,
			Err:        errors.New(http.StatusText(status)),
		}
	case status >= 400:
		return fmt.Errorf("%w: %s: status %d: %s", ErrRejected, op, status, body)
	default:
		return fmt.Errorf("%w: %s: unexpected status %d", ErrInvalidResponse, op, status)
	}
}

// TransportError wraps a failure to reach the provider as transient.
// Cancellation by the caller is returned unchanged so a shutdown is not
// recorded as a provider outage.
func TransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ExternalServiceError{Op: op, Err: err}
}
