// Package clubcast is the notification fan-out layer of the club backend.
// It publishes domain events to a topic exchange and consumes them from
// four category queues, resolving recipients and handing the messages to
// push delivery with at-least-once semantics.
package clubcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/clubcast/clubcast-go/fanout"
	"github.com/clubcast/clubcast-go/internal/rabbitmq"
	"github.com/clubcast/clubcast-go/internal/reliability"
)

// Client wires the broker layer to the dispatch layer: one managed
// connection, a channel pool drawing from it, the declared topology, an
// event publisher for the write path, and the four category consumers for
// the read path. Every collaborator is injected; nothing is looked up from
// ambient state.
type Client struct {
	connManager *rabbitmq.ConnectionManager
	pool        *rabbitmq.ChannelPool
	topology    *rabbitmq.TopologyManager
	publisher   *fanout.EventPublisher
	queues      *fanout.QueueManager
	dispatcher  *fanout.Dispatcher
	consumer    *rabbitmq.Consumer
	dlqHandler  *reliability.DLQHandler
	parked      *reliability.ParkedMessageStore
	logger      *slog.Logger
	started     bool
}

// clientConfig holds client construction settings.
type clientConfig struct {
	logger          *slog.Logger
	connectTimeout  time.Duration
	prefetchCount   int
	maxRedeliveries int
	parkedCapacity  int
	drainDLQ        bool
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger for every component the client builds.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithConnectTimeout bounds the initial broker connection attempt.
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectTimeout = timeout
	}
}

// WithPrefetchCount sets the per-consumer prefetch. The default of 1 gives
// fair dispatch across the category queues.
func WithPrefetchCount(count int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.prefetchCount = count
	}
}

// WithMaxRedeliveries caps retries for messages whose handler keeps
// failing; beyond the cap they are parked for inspection.
func WithMaxRedeliveries(max int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.maxRedeliveries = max
	}
}

// WithDLQDraining controls whether Start also consumes the dead-letter
// queue, re-publishing messages still under the retry budget. On by
// default.
func WithDLQDraining(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.drainDLQ = enabled
	}
}

// NewClient builds a client over the given broker URL and collaborators.
// The token lookup and push delivery are the system's only external
// dependencies; everything else is owned here.
func NewClient(url string, lookup fanout.TokenLookup, push fanout.PushDelivery, options ...ClientOption) (*Client, error) {
	if lookup == nil || push == nil {
		return nil, fmt.Errorf("%w: client requires token lookup and push delivery", rabbitmq.ErrInvalidConfiguration)
	}

	cfg := &clientConfig{
		logger:          slog.Default(),
		connectTimeout:  30 * time.Second,
		prefetchCount:   1,
		maxRedeliveries: 5,
		parkedCapacity:  100,
		drainDLQ:        true,
	}
	for _, opt := range options {
		opt(cfg)
	}

	connManager := rabbitmq.NewConnectionManager(url,
		rabbitmq.WithLogger(cfg.logger),
		rabbitmq.WithConnectTimeout(cfg.connectTimeout),
	)

	// Min size zero: channels cannot open before Start connects.
	pool, err := rabbitmq.NewChannelPool(connManager, rabbitmq.WithMinSize(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	topology := rabbitmq.NewTopologyManager(pool)

	wire := rabbitmq.NewPublisher(pool)
	publisher := fanout.NewEventPublisher(wire,
		fanout.WithPublisherLogger(cfg.logger),
	)

	consumer := rabbitmq.NewConsumer(pool,
		rabbitmq.WithPrefetchCount(cfg.prefetchCount),
		rabbitmq.WithConsumerLogger(cfg.logger),
	)

	queues := fanout.NewQueueManager(topology, consumer,
		fanout.WithQueueLogger(cfg.logger),
	)

	dispatcher := fanout.NewDispatcher(lookup, push,
		fanout.WithDispatcherLogger(cfg.logger),
		fanout.WithMaxRedeliveries(cfg.maxRedeliveries),
	)

	parked := reliability.NewParkedMessageStore(cfg.parkedCapacity)
	var dlqHandler *reliability.DLQHandler
	if cfg.drainDLQ {
		dlqHandler = reliability.NewDLQHandler(
			func(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error {
				return wire.Publish(ctx, rabbitmq.NotificationsExchange, routingKey, amqp.Publishing{
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Headers:      headers,
					Body:         body,
				})
			},
			reliability.WithDLQLogger(cfg.logger),
			reliability.WithDLQMaxRetries(cfg.maxRedeliveries),
			reliability.WithParkedMessageStore(parked),
		)
	}

	return &Client{
		connManager: connManager,
		pool:        pool,
		topology:    topology,
		publisher:   publisher,
		queues:      queues,
		dispatcher:  dispatcher,
		consumer:    consumer,
		dlqHandler:  dlqHandler,
		parked:      parked,
		logger:      cfg.logger,
	}, nil
}

// Start connects to the broker, declares the exchange, queues, and
// bindings, and begins consuming the four category queues. A connection
// failure here is fatal to the caller; after startup, drops are absorbed
// by automatic reconnection.
func (c *Client) Start(ctx context.Context) error {
	if c.started {
		return nil
	}

	if err := c.connManager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	if err := c.queues.DeclareAndBind(ctx); err != nil {
		return err
	}

	if err := c.queues.StartConsumers(ctx, c.dispatcher.Handle); err != nil {
		return err
	}

	if c.dlqHandler != nil {
		handler := func(ctx context.Context, delivery amqp.Delivery) rabbitmq.AckDecision {
			if err := c.dlqHandler.Process(ctx, delivery); err != nil {
				return rabbitmq.Requeue
			}
			return rabbitmq.Ack
		}
		if err := c.consumer.Subscribe(ctx, rabbitmq.DeadLetterQueue, handler); err != nil {
			return fmt.Errorf("failed to start dead-letter consumer: %w", err)
		}
	}

	c.started = true
	c.logger.Info("notification fan-out started")
	return nil
}

// Stop shuts the client down: consumers first, letting in-flight messages
// settle, then the channel pool and the connection. Idempotent.
func (c *Client) Stop() error {
	if !c.started {
		return nil
	}
	c.started = false

	if err := c.queues.StopConsumers(); err != nil {
		c.logger.Error("failed to stop consumers", "error", err)
	}
	if err := c.pool.Close(); err != nil {
		c.logger.Error("failed to close channel pool", "error", err)
	}
	if err := c.connManager.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	c.logger.Info("notification fan-out stopped")
	return nil
}

// Publish fans out one notification under the given routing key.
func (c *Client) Publish(ctx context.Context, routingKey string, message interface{}) error {
	return c.publisher.Publish(ctx, routingKey, message)
}

// Publisher returns the event publisher, the sole write path into the
// fan-out layer.
func (c *Client) Publisher() *fanout.EventPublisher {
	return c.publisher
}

// IsConnected reports whether the broker connection is live.
func (c *Client) IsConnected() bool {
	return c.connManager.IsConnected()
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() rabbitmq.ConnectionState {
	return c.connManager.State()
}

// ParkedMessages returns the messages that exhausted their retry budget.
func (c *Client) ParkedMessages() []reliability.ParkedMessage {
	return c.parked.List()
}

// ConnectionManager exposes the managed connection for health checks.
func (c *Client) ConnectionManager() *rabbitmq.ConnectionManager {
	return c.connManager
}

// ChannelPool exposes the channel pool for health checks.
func (c *Client) ChannelPool() *rabbitmq.ChannelPool {
	return c.pool
}

// TopologyManager exposes the topology manager for health checks.
func (c *Client) TopologyManager() *rabbitmq.TopologyManager {
	return c.topology
}
