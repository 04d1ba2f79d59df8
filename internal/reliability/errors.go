package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMaxRetriesExceeded means the retry budget ran out.
	ErrMaxRetriesExceeded = errors.New("reliability: maximum attempts exceeded")

	// ErrParkedMessageNotFound means the error store has no such message.
	ErrParkedMessageNotFound = errors.New("reliability: parked message not found")
)

// CircuitBreakerError is returned when the circuit refuses a call.
type CircuitBreakerError struct {
	Name             string
	State            State
	Op               string
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		retryIn := time.Until(e.NextRetry).Round(time.Second)
		return fmt.Sprintf("circuit breaker %s open: %s blocked (failures=%d/%d, retry in %v)",
			e.Name, e.Op, e.Failures, e.FailureThreshold, retryIn)
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: %s limited", e.Name, e.Op)
	default:
		return fmt.Sprintf("circuit breaker %s: %s refused in state %v", e.Name, e.Op, e.State)
	}
}

// IsRetryable reports whether the call may succeed later. An open circuit
// becomes retryable once its timeout expires.
func (e *CircuitBreakerError) IsRetryable() bool {
	return e.State != StateOpen || time.Now().After(e.NextRetry)
}
