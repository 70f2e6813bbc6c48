package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"
)

// RetryConfig controls how Retry spaces out attempts
type RetryConfig struct {
	MaxAttempts       int           // attempts including the first
	InitialBackoff    time.Duration // wait before the second attempt
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool // add up to 25% to each wait
}

// DefaultRetryConfig returns the settings used for TTS synthesis requests
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// backoff returns the wait after the given zero-based attempt
func (c *RetryConfig) backoff(attempt int) time.Duration {
	wait := time.Duration(float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt)))
	if c.Jitter && wait > 0 {
		wait += rand.N(wait/4 + 1)
	}
	return min(wait, c.MaxBackoff)
}

// Retry calls fn until it succeeds or returns an error isRetryable rejects,
// the attempts run out, or ctx is done. A nil isRetryable retries every error.
func Retry(ctx context.Context, fn func(ctx context.Context) error, config *RetryConfig, isRetryable func(error) bool) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var err error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(config.backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
	}
	return err
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"eof",
	"unavailable",
	"no route to host",
	"deadline exceeded",
	"timeout",
	"rate limit",
	"too many requests",
}

// IsRetryableNetworkError reports whether err looks like a transient
// transport failure. Errors wrapped with NewRetryableError always qualify
// and cancellation never does.
func IsRetryableNetworkError(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case IsRetryable(err):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RetryableError marks an error as worth retrying
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryableError wraps err as a RetryableError; nil stays nil
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err wraps a RetryableError
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
