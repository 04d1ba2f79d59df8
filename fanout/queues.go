package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clubcast/clubcast-go/contracts"
	"github.com/clubcast/clubcast-go/internal/rabbitmq"
)

// CategoryQueue pairs a durable queue with the wildcard binding pattern that
// feeds it.
type CategoryQueue struct {
	Name     string
	Pattern  string
	Category contracts.Category
}

// CategoryQueues is the fixed set of four queues. Wildcard patterns keep the
// queue count constant no matter how many teams, provinces, or users exist;
// per-tenant queues are deliberately avoided.
func CategoryQueues() []CategoryQueue {
	return []CategoryQueue{
		{Name: "global_queue", Pattern: contracts.GlobalRoutingKey, Category: contracts.CategoryGlobal},
		{Name: "team_queue", Pattern: "team.*.event.*", Category: contracts.CategoryTeam},
		{Name: "province_queue", Pattern: "province.*.notification", Category: contracts.CategoryProvince},
		{Name: "individual_queue", Pattern: "user.*.notification", Category: contracts.CategoryIndividual},
	}
}

// QueueManager declares the category queues, binds them to the exchange,
// and starts one manual-ack consumer per queue.
type QueueManager struct {
	topology *rabbitmq.TopologyManager
	consumer *rabbitmq.Consumer
	queues   []CategoryQueue
	logger   *slog.Logger
	declared bool
}

// QueueManagerOption configures the queue manager.
type QueueManagerOption func(*QueueManager)

// WithQueues overrides the queue set, mainly for tests.
func WithQueues(queues []CategoryQueue) QueueManagerOption {
	return func(qm *QueueManager) {
		qm.queues = queues
	}
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueManagerOption {
	return func(qm *QueueManager) {
		qm.logger = logger
	}
}

// NewQueueManager creates a queue manager over the broker layer.
func NewQueueManager(topology *rabbitmq.TopologyManager, consumer *rabbitmq.Consumer, options ...QueueManagerOption) *QueueManager {
	qm := &QueueManager{
		topology: topology,
		consumer: consumer,
		queues:   CategoryQueues(),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(qm)
	}

	return qm
}

// DeclareAndBind declares the exchange, the four durable category queues,
// and the dead-letter pair, then binds each queue once. Each queue is bound
// exactly once at startup; rebinding per tenant or per event never happens.
// Safe to run on every startup.
func (qm *QueueManager) DeclareAndBind(ctx context.Context) error {
	if qm.topology == nil {
		return fmt.Errorf("%w: queue manager has no topology manager", rabbitmq.ErrInvalidConfiguration)
	}

	declarations := make([]rabbitmq.QueueDeclaration, 0, len(qm.queues))
	bindings := make([]rabbitmq.Binding, 0, len(qm.queues))
	for _, q := range qm.queues {
		declarations = append(declarations, rabbitmq.QueueDeclaration{
			Name:      q.Name,
			Durable:   true,
			Arguments: rabbitmq.DeadLetterArguments(),
		})
		bindings = append(bindings, rabbitmq.Binding{
			Queue:      q.Name,
			Exchange:   rabbitmq.NotificationsExchange,
			RoutingKey: q.Pattern,
		})
	}

	if err := qm.topology.DeclareTopology(ctx, rabbitmq.NotificationTopology(declarations, bindings)); err != nil {
		return fmt.Errorf("failed to declare notification topology: %w", err)
	}

	qm.declared = true
	qm.logger.Info("notification topology declared",
		"exchange", rabbitmq.NotificationsExchange,
		"queues", len(qm.queues),
	)

	return nil
}

// StartConsumers registers the handler on each category queue with manual
// acknowledgement. Calling this before DeclareAndBind is a programming
// error and fails immediately rather than racing the broker.
func (qm *QueueManager) StartConsumers(ctx context.Context, handler rabbitmq.DeliveryHandler) error {
	if qm.consumer == nil {
		return fmt.Errorf("%w: queue manager has no consumer", rabbitmq.ErrInvalidConfiguration)
	}
	if !qm.declared {
		return fmt.Errorf("%w: queues not declared; call DeclareAndBind first", rabbitmq.ErrInvalidConfiguration)
	}

	for _, q := range qm.queues {
		if err := qm.consumer.Subscribe(ctx, q.Name, handler); err != nil {
			return fmt.Errorf("failed to start consumer for %s: %w", q.Name, err)
		}
	}

	return nil
}

// StopConsumers stops all category consumers, waiting for in-flight
// messages to settle.
func (qm *QueueManager) StopConsumers() error {
	if qm.consumer == nil {
		return nil
	}
	return qm.consumer.UnsubscribeAll()
}
