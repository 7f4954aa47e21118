package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RetryPolicy retries 5xx responses a fixed number of times with a constant
// pause in between. Transport failures and 4xx responses are never retried.
type RetryPolicy struct {
	// MaxAttempts counts the first request, so 3 means two retries.
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
}

// ShouldRetry determines if a response received on the given attempt should be retried
func (p RetryPolicy) ShouldRetry(statusCode, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return statusCode >= 500 && statusCode < 600
}

// Wait sleeps for the retry delay or until ctx is done.
func (p RetryPolicy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TransportError is a fetch that never produced an HTTP response: DNS
// failure, refused connection, timeout or cancellation.
type TransportError struct {
	URL      string
	Err      error
	Attempts int
}

func (e *TransportError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("fetch %s failed (attempt %d): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline or network timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Canceled reports whether the fetch was abandoned because its context was canceled.
func (e *TransportError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}
