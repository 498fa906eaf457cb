package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTestError    = errors.New("test error")
	errNonRetryable = errors.New("non-retryable error")
	errRetryable    = errors.New("retryable error")
)

func fastConfig(maxAttempts int) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errTestError
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(2), func() error {
		attempts++
		return errTestError
	})

	assert.ErrorIs(t, err, errTestError)
	assert.Equal(t, 3, attempts)
}

func TestRetry_Disabled(t *testing.T) {
	cfg := fastConfig(5)
	cfg.Enabled = false

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errTestError
	})

	assert.Equal(t, errTestError, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	cfg := fastConfig(10)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Retry(ctx, cfg, func() error { return errTestError })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetry_ErrorLists(t *testing.T) {
	t.Run("non-retryable", func(t *testing.T) {
		cfg := fastConfig(3)
		cfg.NonRetryableErrors = []error{errNonRetryable}

		attempts := 0
		err := Retry(context.Background(), cfg, func() error {
			attempts++
			return errNonRetryable
		})
		assert.ErrorIs(t, err, errNonRetryable)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retryable list", func(t *testing.T) {
		cfg := fastConfig(3)
		cfg.RetryableErrors = []error{errRetryable}

		attempts := 0
		err := Retry(context.Background(), cfg, func() error {
			attempts++
			if attempts == 1 {
				return errRetryable
			}
			return errTestError
		})
		assert.ErrorIs(t, err, errTestError)
		assert.Equal(t, 2, attempts)
	})

	t.Run("permanent", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), fastConfig(3), func() error {
			attempts++
			return Permanent(errTestError)
		})
		assert.Equal(t, errTestError, err)
		assert.Equal(t, 1, attempts)
	})
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastConfig(3), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errTestError
		}
		return "connected", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "connected", got)
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(cfg, 2))
	assert.Equal(t, time.Second, calculateDelay(cfg, 10))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := calculateDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}
