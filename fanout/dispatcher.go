package fanout

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/clubcast/clubcast-go/contracts"
	"github.com/clubcast/clubcast-go/internal/rabbitmq"
	"github.com/clubcast/clubcast-go/internal/reliability"
)

// DeliveryStrategy resolves a classified notification's recipients and
// hands the message off to push delivery. A returned error is treated as
// transient and causes redelivery; permanent conditions (no recipients,
// missing payload fields) are logged inside the strategy and return nil.
type DeliveryStrategy interface {
	Deliver(ctx context.Context, c contracts.Classification, env *contracts.Envelope) error
}

// Dispatcher turns one inbound delivery into exactly one terminal broker
// decision. The pipeline is parse, classify, deliver; acknowledgement is
// always the last action, performed by the consumer after Handle returns.
type Dispatcher struct {
	strategies      map[contracts.Category]DeliveryStrategy
	logger          *slog.Logger
	maxRedeliveries int
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMaxRedeliveries caps how many times a failing message cycles through
// the dead-letter queue before it is parked.
func WithMaxRedeliveries(max int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxRedeliveries = max
	}
}

// WithStrategy overrides the strategy for one category.
func WithStrategy(category contracts.Category, strategy DeliveryStrategy) DispatcherOption {
	return func(d *Dispatcher) {
		d.strategies[category] = strategy
	}
}

// NewDispatcher creates a dispatcher with the four standard strategies
// wired to the given collaborators.
func NewDispatcher(lookup TokenLookup, push PushDelivery, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger:          slog.Default(),
		maxRedeliveries: 5,
	}
	d.strategies = map[contracts.Category]DeliveryStrategy{
		contracts.CategoryIndividual: NewIndividualStrategy(lookup, push),
		contracts.CategoryTeam:       NewTeamStrategy(lookup, push),
		contracts.CategoryProvince:   NewProvinceStrategy(lookup, push),
		contracts.CategoryGlobal:     NewGlobalStrategy(lookup, push),
	}

	for _, opt := range options {
		opt(d)
	}

	for _, s := range d.strategies {
		if ls, ok := s.(loggerSetter); ok {
			ls.setLogger(d.logger)
		}
	}

	return d
}

// Handle processes one delivery and returns the broker decision.
//
// Undecodable bodies are poison: redelivery cannot fix them, so they are
// dropped to the dead-letter queue immediately. Unknown routing keys are
// not poison and not errors; they are acked with a warning so they never
// block the queue. Strategy errors are transient: the first failure
// requeues for an immediate retry, later failures cycle through the
// dead-letter queue so the x-death count bounds the total attempts.
func (d *Dispatcher) Handle(ctx context.Context, delivery amqp.Delivery) rabbitmq.AckDecision {
	env, err := contracts.ParseEnvelope(delivery.Body)
	if err != nil {
		d.logger.Warn("dropping undecodable message",
			"routingKey", delivery.RoutingKey,
			"messageId", delivery.MessageId,
			"error", err,
		)
		return rabbitmq.Drop
	}

	classification := contracts.Classify(delivery.RoutingKey)
	if classification.Category == contracts.CategoryUnknown {
		d.logger.Warn("acking message with unknown routing key",
			"routingKey", delivery.RoutingKey,
			"messageId", delivery.MessageId,
		)
		return rabbitmq.Ack
	}

	strategy, ok := d.strategies[classification.Category]
	if !ok {
		d.logger.Warn("no strategy registered for category",
			"category", classification.Category.String(),
			"routingKey", delivery.RoutingKey,
		)
		return rabbitmq.Ack
	}

	if err := strategy.Deliver(ctx, classification, env); err != nil {
		return d.failureDecision(delivery, classification, err)
	}

	return rabbitmq.Ack
}

// failureDecision picks the terminal state for a failed delivery. The
// x-death header only grows when a message passes through the dead-letter
// exchange, so after the one immediate requeue every further failure goes
// that way to keep the retry count honest.
func (d *Dispatcher) failureDecision(delivery amqp.Delivery, c contracts.Classification, err error) rabbitmq.AckDecision {
	deaths := reliability.DeathCount(delivery.Headers)

	if deaths >= int64(d.maxRedeliveries) {
		d.logger.Error("message exhausted its redeliveries",
			"routingKey", delivery.RoutingKey,
			"category", c.Category.String(),
			"deaths", deaths,
			"error", err,
		)
		return rabbitmq.Drop
	}

	if !delivery.Redelivered && deaths == 0 {
		d.logger.Warn("requeueing message after handler failure",
			"routingKey", delivery.RoutingKey,
			"category", c.Category.String(),
			"error", err,
		)
		return rabbitmq.Requeue
	}

	d.logger.Warn("dead-lettering message after repeated failure",
		"routingKey", delivery.RoutingKey,
		"category", c.Category.String(),
		"deaths", deaths,
		"error", err,
	)
	return rabbitmq.Drop
}
