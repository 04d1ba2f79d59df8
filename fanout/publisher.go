package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/clubcast/clubcast-go/contracts"
	"github.com/clubcast/clubcast-go/internal/rabbitmq"
	"github.com/clubcast/clubcast-go/internal/reliability"
)

// wirePublisher is the piece of the broker layer the event publisher needs.
type wirePublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// EventPublisher is the write path into the fan-out layer. It validates the
// routing key against the category grammar, serializes the message as JSON,
// and publishes it persistently to the notifications exchange. Transient
// broker failures are retried under the retry policy; a circuit breaker
// guards the broker so a dead connection fails fast instead of stalling
// every caller.
type EventPublisher struct {
	wire        wirePublisher
	exchange    string
	breaker     *reliability.CircuitBreaker
	retryPolicy reliability.RetryPolicy
	logger      *slog.Logger
}

// EventPublisherOption configures the event publisher.
type EventPublisherOption func(*EventPublisher)

// WithExchange overrides the target exchange.
func WithExchange(exchange string) EventPublisherOption {
	return func(p *EventPublisher) {
		p.exchange = exchange
	}
}

// WithBreaker sets the circuit breaker guarding publishes.
func WithBreaker(breaker *reliability.CircuitBreaker) EventPublisherOption {
	return func(p *EventPublisher) {
		p.breaker = breaker
	}
}

// WithRetryPolicy sets the retry policy for transient publish failures.
func WithRetryPolicy(policy reliability.RetryPolicy) EventPublisherOption {
	return func(p *EventPublisher) {
		p.retryPolicy = policy
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) EventPublisherOption {
	return func(p *EventPublisher) {
		p.logger = logger
	}
}

// NewEventPublisher creates an event publisher over the broker layer.
func NewEventPublisher(wire wirePublisher, options ...EventPublisherOption) *EventPublisher {
	p := &EventPublisher{
		wire:     wire,
		exchange: rabbitmq.NotificationsExchange,
		breaker: reliability.NewCircuitBreaker(
			reliability.WithName("publish"),
			reliability.WithFailureThreshold(5),
			reliability.WithTimeout(15*time.Second),
		),
		retryPolicy: reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, 3),
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish serializes message as JSON and publishes it under routingKey. The
// key must match the category grammar; the message must marshal to JSON,
// with datetimes rendered as ISO-8601 strings. Duplicates are possible
// downstream: delivery is at-least-once and nothing here deduplicates.
//
// An error means the notification was not handed to the broker. Callers
// typically log and continue; a degraded fan-out should not fail the
// business operation that triggered it.
func (p *EventPublisher) Publish(ctx context.Context, routingKey string, message interface{}) error {
	if err := contracts.ValidateRoutingKey(routingKey); err != nil {
		return err
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMalformedEnvelope, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	publishFunc := func() error {
		return p.breaker.Execute(ctx, func() error {
			return p.wire.Publish(ctx, p.exchange, routingKey, msg)
		})
	}

	// An open breaker reports itself non-retryable, so the retry loop
	// stops instead of hammering a broker already known to be down.
	err = reliability.Retry(ctx, p.retryPolicy, publishFunc)
	if err != nil {
		p.logger.Error("failed to publish notification",
			"routingKey", routingKey,
			"messageId", msg.MessageId,
			"error", err,
		)
		return err
	}

	p.logger.Debug("published notification",
		"routingKey", routingKey,
		"messageId", msg.MessageId,
	)

	return nil
}
