// Package retry provides generic retry logic with exponential backoff and
// jitter for transient failures. The delay schedule and the sleep itself are
// injectable, so retry behavior is unit-testable without real time passing.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// SleepFunc waits for a delay, returning early with the context error when
// the context is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier scales the delay after each attempt.
	Multiplier float64

	// Jitter is the fraction of each delay that is randomized, in [0, 1].
	// A delay d becomes d * (1 - Jitter/2 + Jitter*rand).
	Jitter float64

	// Sleep performs the wait. Nil uses a real timer; tests inject a fake.
	Sleep SleepFunc

	// Rand supplies jitter randomness in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// DefaultConfig provides sensible defaults for retry operations.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.2,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay returns the backoff delay for a zero-based attempt number, with the
// multiplier, cap, and jitter applied.
func (c Config) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	if c.Jitter > 0 {
		r := c.Rand
		if r == nil {
			r = rand.Float64
		}
		d *= 1 - c.Jitter/2 + c.Jitter*r()
	}
	if max := float64(c.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// WithRetry executes a function with retry logic using generics for type
// safety. It applies exponential backoff between attempts and respects
// context cancellation.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error

	sleep := config.Sleep
	if sleep == nil {
		sleep = realSleep
	}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		// Don't sleep after the last attempt.
		if attempt < config.MaxAttempts-1 {
			if err := sleep(ctx, config.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// WithSimpleRetry uses default configuration for retry operations.
func WithSimpleRetry[T any](
	ctx context.Context,
	fn func() (T, error),
	isRetryable IsRetryable,
) (T, error) {
	return WithRetry(ctx, DefaultConfig, isRetryable, fn)
}
