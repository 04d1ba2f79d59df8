package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("delays grow and respect the cap", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 10)
		policy.Jitter = false

		assert.Equal(t, 100*time.Millisecond, policy.NextDelay(0))
		assert.Equal(t, 200*time.Millisecond, policy.NextDelay(1))
		assert.Equal(t, 400*time.Millisecond, policy.NextDelay(2))
		assert.Equal(t, 1*time.Second, policy.NextDelay(5))
	})

	t.Run("stops after max attempts", func(t *testing.T) {
		policy := NewExponentialBackoff(time.Millisecond, time.Second, 2.0, 3)

		shouldRetry, _ := policy.ShouldRetry(2, errors.New("transient"))
		assert.True(t, shouldRetry)

		shouldRetry, _ = policy.ShouldRetry(3, errors.New("transient"))
		assert.False(t, shouldRetry)
	})

	t.Run("respects permanent errors", func(t *testing.T) {
		policy := NewExponentialBackoff(time.Millisecond, time.Second, 2.0, 3)

		shouldRetry, _ := policy.ShouldRetry(0, PermanentError{Err: errors.New("bad payload")})
		assert.False(t, shouldRetry)
	})

	t.Run("jitter stays near the base delay", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 5)

		for i := 0; i < 20; i++ {
			delay := policy.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 85*time.Millisecond)
			assert.LessOrEqual(t, delay, 115*time.Millisecond)
		}
	})
}

func TestFixedDelay(t *testing.T) {
	policy := NewFixedDelay(50*time.Millisecond, 2)

	assert.Equal(t, 50*time.Millisecond, policy.NextDelay(0))
	assert.Equal(t, 50*time.Millisecond, policy.NextDelay(7))
	assert.Equal(t, 2, policy.MaxRetries())

	shouldRetry, delay := policy.ShouldRetry(0, errors.New("transient"))
	assert.True(t, shouldRetry)
	assert.Equal(t, 50*time.Millisecond, delay)

	shouldRetry, _ = policy.ShouldRetry(2, errors.New("transient"))
	assert.False(t, shouldRetry)
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("reports an exhausted budget with the last error", func(t *testing.T) {
		lastErr := errors.New("still broken")
		attempts := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 2), func() error {
			attempts++
			return lastErr
		})

		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.ErrorIs(t, err, lastErr)
		assert.Equal(t, 3, attempts)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			attempts++
			return PermanentError{Err: errors.New("malformed")}
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Retry(ctx, NewFixedDelay(time.Millisecond, 5), func() error {
			return errors.New("transient")
		})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPermanentError(t *testing.T) {
	inner := errors.New("boom")
	perr := PermanentError{Err: inner}

	assert.Equal(t, "boom", perr.Error())
	assert.False(t, perr.IsRetryable())
	assert.ErrorIs(t, perr, inner)
}
