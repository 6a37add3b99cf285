// Package recovery implements the bounded retry policy the NAS client
// applies to transient conditions: exponential delay growth capped at a
// maximum, optional jitter so concurrent path measurements against one
// host don't retry in lockstep, and early exit on errors marked
// non-retryable.
package recovery

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds one retry loop. MaxAttempts counts the first try;
// a zero or negative value means a single attempt with no retries.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	Logger        *zap.Logger
}

// RetryableError tags an error with whether the loop may try again.
// Callers classify at the point the error is raised (where the HTTP status
// or API code is still in hand) rather than re-parsing it here.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e RetryableError) Error() string { return e.Err.Error() }

func (e RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether the loop may try again after this error.
func (e RetryableError) IsRetryable() bool { return e.Retryable }

// NewRetryableError wraps err with a retry classification.
func NewRetryableError(err error, retryable bool) RetryableError {
	return RetryableError{Err: err, Retryable: retryable}
}

// Retry runs fn until it succeeds, a non-retryable error is returned, the
// attempt budget is exhausted, or ctx is done while waiting out a delay.
// The last error from fn is returned unwrapped.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if config.Logger != nil && attempt > 0 {
				config.Logger.Info("operation succeeded after retry",
					zap.Int("attempts", attempt+1))
			}
			return nil
		}
		lastErr = err

		if re, ok := err.(RetryableError); ok && !re.IsRetryable() {
			break
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(config, attempt)
		if config.Logger != nil {
			config.Logger.Warn("operation failed, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if config.Logger != nil {
		config.Logger.Error("all retry attempts failed",
			zap.Int("attempts", config.MaxAttempts),
			zap.Error(lastErr))
	}

	return lastErr
}

// backoffDelay grows the delay exponentially from InitialDelay, caps it at
// MaxDelay, and adds up to 10% jitter when configured.
func backoffDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}
	return time.Duration(delay)
}
