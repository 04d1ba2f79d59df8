package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubcast/clubcast-go/internal/rabbitmq"
)

// queueBacklogThreshold is the message count above which a category queue
// reports degraded. A growing backlog usually means consumers are down or
// push delivery is slow.
const queueBacklogThreshold = 10000

// BrokerChecker verifies the managed broker connection is live by passively
// declaring the notifications exchange.
type BrokerChecker struct {
	connManager *rabbitmq.ConnectionManager
}

// NewBrokerChecker creates a broker connection checker.
func NewBrokerChecker(connManager *rabbitmq.ConnectionManager) *BrokerChecker {
	return &BrokerChecker{connManager: connManager}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"state": c.connManager.State().String(),
		},
	}

	conn, err := c.connManager.GetConnection()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "no broker connection"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	ch, err := conn.Channel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "failed to open channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	if err := ch.ExchangeDeclarePassive(
		rabbitmq.NotificationsExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		result.Status = StatusDegraded
		result.Message = "notifications exchange not declared"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "broker connection is healthy"
	}

	result.Duration = time.Since(start)
	return result
}

// ChannelPoolChecker verifies a channel can be drawn from the pool.
type ChannelPoolChecker struct {
	pool *rabbitmq.ChannelPool
}

// NewChannelPoolChecker creates a channel pool checker.
func NewChannelPoolChecker(pool *rabbitmq.ChannelPool) *ChannelPoolChecker {
	return &ChannelPoolChecker{pool: pool}
}

func (c *ChannelPoolChecker) Name() string {
	return "channel_pool"
}

func (c *ChannelPoolChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"pool_size": c.pool.Size(),
		},
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "failed to get channel from pool"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	c.pool.Put(ch)

	result.Status = StatusHealthy
	result.Message = "channel pool is healthy"
	result.Duration = time.Since(start)
	return result
}

// QueueChecker verifies one category queue exists and is not backing up.
type QueueChecker struct {
	queueName string
	topology  *rabbitmq.TopologyManager
}

// NewQueueChecker creates a checker for one queue.
func NewQueueChecker(queueName string, topology *rabbitmq.TopologyManager) *QueueChecker {
	return &QueueChecker{queueName: queueName, topology: topology}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	queue, err := c.topology.GetQueueInfo(ctx, c.queueName)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("queue %s not accessible", c.queueName)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Details["message_count"] = queue.Messages
	result.Details["consumer_count"] = queue.Consumers

	switch {
	case queue.Messages > queueBacklogThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("queue %s is backing up", c.queueName)
	case queue.Consumers == 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("queue %s has no consumers", c.queueName)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("queue %s is healthy", c.queueName)
	}

	result.Duration = time.Since(start)
	return result
}

// TokenStoreChecker pings the device-token database.
type TokenStoreChecker struct {
	pool *pgxpool.Pool
}

// NewTokenStoreChecker creates a token store checker.
func NewTokenStoreChecker(pool *pgxpool.Pool) *TokenStoreChecker {
	return &TokenStoreChecker{pool: pool}
}

func (c *TokenStoreChecker) Name() string {
	return "token_store"
}

func (c *TokenStoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
	}

	if err := c.pool.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "token store unreachable"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "token store is reachable"
	}

	result.Duration = time.Since(start)
	return result
}
