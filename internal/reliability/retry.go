package reliability

import (
	"context"
	"fmt"
	"time"
)

// IsRetryableHTTPStatus classifies provider status codes worth one more
// attempt: throttling and transient upstream failures.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// StatusError carries the HTTP status of a failed provider call so retry
// decisions can be made without parsing error strings.
type StatusError struct {
	Provider string
	Code     int
	Detail   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.Code, e.Detail)
}

// Retryable reports whether err is a provider error worth retrying.
func Retryable(err error) bool {
	if se, ok := err.(*StatusError); ok {
		return IsRetryableHTTPStatus(se.Code)
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Do runs fn up to attempts times, backing off between retryable failures.
// Non-retryable errors and context cancellation abort immediately.
func Do(ctx context.Context, attempts int, base, cap time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !Retryable(err) || attempt == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ExponentialBackoff(attempt, base, cap)):
		}
	}
	return err
}
