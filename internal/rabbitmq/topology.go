package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Names of the broker entities this module owns. The exchange name is part
// of the wire contract with every publisher in the surrounding system and
// must not change.
const (
	NotificationsExchange = "notifications_exchange12"
	DeadLetterExchange    = "notifications_dlx"
	DeadLetterQueue       = "notifications_dlq"
)

// TopologyManager declares exchanges, queues, and bindings.
type TopologyManager struct {
	pool *ChannelPool
}

// ExchangeDeclaration defines an exchange to be declared.
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared.
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding.
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology is the complete set of broker entities to declare at startup.
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// NewTopologyManager creates a topology manager over a channel pool.
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// NotificationTopology builds the fixed fan-out topology: one durable topic
// exchange, four durable category queues bound once with wildcard patterns,
// and a dead-letter pair for rejected messages. Wildcard bindings keep the
// queue count constant no matter how many teams, provinces, or users exist.
func NotificationTopology(queues []QueueDeclaration, bindings []Binding) Topology {
	return Topology{
		Exchanges: []ExchangeDeclaration{
			{
				Name:    NotificationsExchange,
				Type:    "topic",
				Durable: true,
			},
			{
				Name:    DeadLetterExchange,
				Type:    "direct",
				Durable: true,
			},
		},
		Queues: append([]QueueDeclaration{
			{
				Name:    DeadLetterQueue,
				Durable: true,
			},
		}, queues...),
		Bindings: append([]Binding{
			{
				Queue:      DeadLetterQueue,
				Exchange:   DeadLetterExchange,
				RoutingKey: DeadLetterQueue,
			},
		}, bindings...),
	}
}

// DeadLetterArguments are the declaration arguments that route a queue's
// rejected messages to the dead-letter queue instead of dropping them.
func DeadLetterArguments() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterQueue,
	}
}

// DeclareTopology declares the complete topology. Declarations are
// idempotent on the broker as long as the parameters match, so running this
// on every startup is safe.
func (tm *TopologyManager) DeclareTopology(ctx context.Context, topology Topology) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		for _, exchange := range topology.Exchanges {
			if err := declareExchange(ch, exchange); err != nil {
				return fmt.Errorf("failed to declare exchange %s: %w", exchange.Name, err)
			}
		}

		for _, queue := range topology.Queues {
			if _, err := declareQueue(ch, queue); err != nil {
				return fmt.Errorf("failed to declare queue %s: %w", queue.Name, err)
			}
		}

		for _, binding := range topology.Bindings {
			if err := bindQueue(ch, binding); err != nil {
				return fmt.Errorf("failed to bind queue %s to exchange %s: %w",
					binding.Queue, binding.Exchange, err)
			}
		}

		return nil
	})
}

// DeclareExchange declares a single exchange.
func (tm *TopologyManager) DeclareExchange(ctx context.Context, exchange ExchangeDeclaration) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return declareExchange(ch, exchange)
	})
}

// DeclareQueue declares a single queue.
func (tm *TopologyManager) DeclareQueue(ctx context.Context, queue QueueDeclaration) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = declareQueue(ch, queue)
		return err
	})
	return q, err
}

// BindQueue creates a queue binding.
func (tm *TopologyManager) BindQueue(ctx context.Context, binding Binding) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return bindQueue(ch, binding)
	})
}

// GetQueueInfo retrieves queue counters, mainly for health checks.
func (tm *TopologyManager) GetQueueInfo(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = ch.QueueInspect(name)
		return err
	})
	return q, err
}

func declareExchange(ch *amqp.Channel, exchange ExchangeDeclaration) error {
	return ch.ExchangeDeclare(
		exchange.Name,
		exchange.Type,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
}

func declareQueue(ch *amqp.Channel, queue QueueDeclaration) (amqp.Queue, error) {
	return ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
}

func bindQueue(ch *amqp.Channel, binding Binding) error {
	return ch.QueueBind(
		binding.Queue,
		binding.RoutingKey,
		binding.Exchange,
		false, // no-wait
		binding.Arguments,
	)
}
