package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AckDecision is a handler's verdict on a delivery. The consumer performs
// the matching broker operation strictly after the handler returns; a crash
// mid-handling leaves the message unacked and the broker redelivers it.
type AckDecision int

const (
	// Ack removes the message from the queue.
	Ack AckDecision = iota
	// Drop rejects without requeue; with a dead-letter exchange configured
	// the message is parked there instead of discarded.
	Drop
	// Requeue rejects with requeue for immediate redelivery.
	Requeue
)

func (d AckDecision) String() string {
	switch d {
	case Drop:
		return "drop"
	case Requeue:
		return "requeue"
	default:
		return "ack"
	}
}

// DeliveryHandler inspects one delivery and decides its fate.
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) AckDecision

// Consumer manages manual-ack message consumption. Each subscription holds
// its own channel with prefetch applied, so one slow queue cannot starve
// the others.
type Consumer struct {
	pool            *ChannelPool
	prefetchCount   int
	consumerTag     string
	handlerTimeout  time.Duration
	logger          *slog.Logger
	activeConsumers sync.Map
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the per-channel prefetch. The default of 1 gives
// fair dispatch: the broker withholds the next message until the previous
// one is acked or rejected.
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithConsumerTag sets the consumer tag prefix.
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithHandlerTimeout bounds a single handler invocation.
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.handlerTimeout = timeout
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer.
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:           pool,
		prefetchCount:  1,
		handlerTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// consumerInfo tracks one active subscription.
type consumerInfo struct {
	queue       string
	consumerTag string
	channel     *PooledChannel
	cancel      context.CancelFunc
	done        chan struct{}
}

// Subscribe starts consuming from a queue in manual-ack mode. The handler's
// decision is the last action taken for each message.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler DeliveryHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidConfiguration)
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{
			Queue:     queue,
			Op:        "subscribe",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Put(ch)
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	tag := c.consumerTag
	if tag == "" {
		tag = fmt.Sprintf("consumer-%s-%s", queue, uuid.New().String()[:8])
	}

	deliveries, err := ch.Consume(
		queue,
		tag,
		false, // auto-ack: never; a crash mid-processing must redeliver
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		c.pool.Put(ch)
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	info := &consumerInfo{
		queue:       queue,
		consumerTag: tag,
		channel:     ch,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	c.activeConsumers.Store(queue, info)

	go c.processDeliveries(consumerCtx, info, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", tag,
		"prefetchCount", c.prefetchCount,
	)

	return nil
}

// processDeliveries drains the delivery channel. An in-flight handler runs
// to completion even when the context is cancelled; the loop only checks
// for cancellation between messages.
func (c *Consumer) processDeliveries(ctx context.Context, info *consumerInfo, deliveries <-chan amqp.Delivery, handler DeliveryHandler) {
	defer func() {
		close(info.done)
		c.pool.Put(info.channel)
		c.activeConsumers.Delete(info.queue)
		c.logger.Info("consumer stopped", "queue", info.queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", info.queue)
				return
			}
			c.handleDelivery(ctx, info.queue, delivery, handler)
		}
	}
}

// handleDelivery runs the handler and then settles the message. Settling is
// strictly ordered after handling; the handler never sees an acked message.
func (c *Consumer) handleDelivery(ctx context.Context, queue string, delivery amqp.Delivery, handler DeliveryHandler) {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.handlerTimeout)
	defer cancel()

	decision := c.invoke(msgCtx, delivery, handler)

	var err error
	switch decision {
	case Ack:
		err = delivery.Ack(false)
	case Drop:
		err = delivery.Nack(false, false)
	case Requeue:
		err = delivery.Nack(false, true)
	}

	if err != nil {
		c.logger.Error("failed to settle message",
			"queue", queue,
			"decision", decision.String(),
			"deliveryTag", delivery.DeliveryTag,
			"error", err,
		)
	}
}

// invoke shields the consumer loop from handler panics. A panicking handler
// is treated like a failing one: the message is requeued.
func (c *Consumer) invoke(ctx context.Context, delivery amqp.Delivery, handler DeliveryHandler) (decision AckDecision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked",
				"routingKey", delivery.RoutingKey,
				"panic", r,
			)
			decision = Requeue
		}
	}()
	return handler(ctx, delivery)
}

// Unsubscribe stops consuming from a queue, waiting for the in-flight
// message to settle.
func (c *Consumer) Unsubscribe(queue string) error {
	value, ok := c.activeConsumers.Load(queue)
	if !ok {
		return fmt.Errorf("no active consumer for queue: %s", queue)
	}

	info := value.(*consumerInfo)
	info.cancel()
	<-info.done

	return nil
}

// UnsubscribeAll stops all active consumers.
func (c *Consumer) UnsubscribeAll() error {
	var wg sync.WaitGroup

	c.activeConsumers.Range(func(key, value interface{}) bool {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := c.Unsubscribe(queue); err != nil {
				c.logger.Error("failed to unsubscribe", "queue", queue, "error", err)
			}
		}(key.(string))
		return true
	})

	wg.Wait()
	return nil
}

// ActiveQueues returns the queues with a live consumer.
func (c *Consumer) ActiveQueues() []string {
	var queues []string
	c.activeConsumers.Range(func(key, value interface{}) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}
