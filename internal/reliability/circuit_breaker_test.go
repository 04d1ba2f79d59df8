package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("stays closed while calls succeed", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))

		for i := 0; i < 5; i++ {
			err := cb.Execute(context.Background(), func() error { return nil })
			require.NoError(t, err)
		}

		assert.Equal(t, StateClosed, cb.GetState())
	})

	t.Run("opens after the failure threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(3), WithName("push"))
		failing := func() error { return errors.New("gateway down") }

		for i := 0; i < 3; i++ {
			_ = cb.Execute(context.Background(), failing)
		}
		assert.Equal(t, StateOpen, cb.GetState())

		err := cb.Execute(context.Background(), func() error { return nil })
		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, "push", cbErr.Name)
		assert.Equal(t, StateOpen, cbErr.State)
	})

	t.Run("a success resets the failure counter while closed", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(3))

		_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
		_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
		_ = cb.Execute(context.Background(), func() error { return nil })
		_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
		_ = cb.Execute(context.Background(), func() error { return errors.New("x") })

		assert.Equal(t, StateClosed, cb.GetState())
	})

	t.Run("half-open closes after enough successes", func(t *testing.T) {
		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithSuccessThreshold(2),
			WithTimeout(10*time.Millisecond),
			WithHalfOpenRequests(5),
		)

		_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
		require.Equal(t, StateOpen, cb.GetState())

		time.Sleep(20 * time.Millisecond)

		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateHalfOpen, cb.GetState())

		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.GetState())
	})

	t.Run("half-open failure reopens the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithTimeout(10*time.Millisecond),
		)

		_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
		time.Sleep(20 * time.Millisecond)

		_ = cb.Execute(context.Background(), func() error { return errors.New("still down") })
		assert.Equal(t, StateOpen, cb.GetState())
	})

	t.Run("reset forces the circuit closed", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))

		_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
		require.Equal(t, StateOpen, cb.GetState())

		cb.Reset()
		assert.Equal(t, StateClosed, cb.GetState())

		err := cb.Execute(context.Background(), func() error { return nil })
		assert.NoError(t, err)
	})

	t.Run("cancelled context is not executed", func(t *testing.T) {
		cb := NewCircuitBreaker()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestCircuitBreakerErrorRetryable(t *testing.T) {
	openErr := &CircuitBreakerError{
		State:     StateOpen,
		NextRetry: time.Now().Add(time.Minute),
	}
	assert.False(t, openErr.IsRetryable())

	expiredErr := &CircuitBreakerError{
		State:     StateOpen,
		NextRetry: time.Now().Add(-time.Second),
	}
	assert.True(t, expiredErr.IsRetryable())

	halfOpenErr := &CircuitBreakerError{State: StateHalfOpen}
	assert.True(t, halfOpenErr.IsRetryable())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
