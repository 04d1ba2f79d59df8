// Package health reports the liveness of the fan-out layer's moving parts:
// the broker connection, the channel pool, the category queues, and the
// token store.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the outcome of one health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one checker's report.
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Checker probes one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Report aggregates all checker results. Overall is the worst individual
// status.
type Report struct {
	Overall   Status        `json:"overall"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// Registry runs a set of checkers.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *slog.Logger
}

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

// WithCheckTimeout bounds each individual check.
func WithCheckTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = timeout
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a checker registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Register adds a checker.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, c)
}

// Check runs every registered checker and aggregates the results.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	report := Report{
		Overall:   StatusHealthy,
		Timestamp: time.Now(),
	}

	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		result := c.Check(checkCtx)
		cancel()

		report.Checks = append(report.Checks, result)
		if severity(result.Status) > severity(report.Overall) {
			report.Overall = result.Status
		}

		if result.Status != StatusHealthy {
			r.logger.Warn("health check not healthy",
				"check", result.Name,
				"status", string(result.Status),
				"message", result.Message,
			)
		}
	}

	return report
}

func severity(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
