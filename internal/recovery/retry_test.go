package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
		Logger:        zap.NewNop(),
	}
}

func TestRetryableError_CarriesClassification(t *testing.T) {
	wrapped := errors.New("timeout")

	re := NewRetryableError(wrapped, true)
	assert.Equal(t, "timeout", re.Error())
	assert.True(t, re.IsRetryable())
	assert.ErrorIs(t, re, wrapped)

	re = NewRetryableError(wrapped, false)
	assert.False(t, re.IsRetryable())
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_SuccessAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient failure")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_ExhaustedBudgetReturnsLastError(t *testing.T) {
	calls := 0
	persistent := errors.New("persistent failure")
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		return persistent
	})

	assert.Equal(t, persistent, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 5

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return NewRetryableError(errors.New("terminal api code"), false)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelsWait(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 10
	cfg.InitialDelay = 500 * time.Millisecond
	cfg.MaxDelay = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	calls := 0
	err := Retry(ctx, cfg, func() error {
		calls++
		return errors.New("keep failing")
	})

	assert.Error(t, err)
	assert.Less(t, calls, 10)
}

func TestRetry_CancelledContextSurfacesAfterFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastConfig(), func() error {
		calls++
		return errors.New("fail")
	})

	// The first attempt still runs; the cancellation is observed while
	// waiting out the retry delay.
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_NilLoggerIsFine(t *testing.T) {
	cfg := fastConfig()
	cfg.Logger = nil
	cfg.MaxAttempts = 2

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 2 {
			return errors.New("fail")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestBackoffDelay_GrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      300 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(cfg, 1))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(cfg, 5))
}

func TestBackoffDelay_JitterStaysWithinTenPercent(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}

	for i := 0; i < 100; i++ {
		d := backoffDelay(cfg, 0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}
