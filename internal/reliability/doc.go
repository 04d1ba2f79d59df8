// Package reliability provides retry policies, a circuit breaker, and
// dead-letter handling used by the publishing and consuming paths.
package reliability
