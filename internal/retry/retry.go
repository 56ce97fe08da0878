// Package retry wraps operations with exponential backoff, honoring
// context cancellation during both the attempt and the wait between
// attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy configures retry behavior for a wrapped operation.
type Policy struct {
	// Enabled disables wrapping entirely when false: the operation is
	// invoked exactly once and its error passes through untouched.
	Enabled bool
	// MaxRetries is the number of attempts before giving up.
	MaxRetries int
	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
	// Base is the exponential growth factor.
	Base float64
}

// DefaultPolicy returns the retry policy used when configuration leaves
// the section empty.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Base:         2.0,
	}
}

// ExhaustedError reports that every attempt failed. It wraps the error
// from the final attempt.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsExhausted reports whether err is (or wraps) an ExhaustedError.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// OnRetry is invoked before each backoff sleep with the failed attempt
// number (starting at 1), the error, and the upcoming delay. It must not
// block; it exists for observability only.
type OnRetry func(attempt int, err error, delay time.Duration)

// Delay computes the backoff before retrying after the given zero-based
// attempt: min(maxDelay, initialDelay * base^attempt).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Base, float64(attempt))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// Do invokes op under the policy. Cancellation observed during the wait or
// during op aborts immediately with the context error, which is never
// wrapped in an ExhaustedError. When the policy is disabled op runs once.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error, onRetry OnRetry) error {
	if !policy.Enabled {
		return op(ctx)
	}
	attempts := policy.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		delay := policy.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt+1, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return &ExhaustedError{Attempts: attempts, LastErr: lastErr}
}

// DoWithValue is Do for operations that return a value.
func DoWithValue[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), onRetry OnRetry) (T, error) {
	var value T
	err := Do(ctx, policy, func(ctx context.Context) error {
		var opErr error
		value, opErr = op(ctx)
		return opErr
	}, onRetry)
	return value, err
}
