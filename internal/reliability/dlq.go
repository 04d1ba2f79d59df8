package reliability

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RepublishFunc re-injects a dead-lettered message under its original
// routing key.
type RepublishFunc func(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error

// DLQHandler drains the dead-letter queue. Messages that died fewer times
// than the retry budget are re-published to the main exchange; the rest are
// parked in the error store for manual inspection.
type DLQHandler struct {
	logger     *slog.Logger
	maxRetries int
	store      *ParkedMessageStore
	republish  RepublishFunc
}

// DLQOption configures the DLQ handler.
type DLQOption func(*DLQHandler)

// WithDLQLogger sets the logger.
func WithDLQLogger(logger *slog.Logger) DLQOption {
	return func(h *DLQHandler) {
		h.logger = logger
	}
}

// WithDLQMaxRetries sets the retry budget for dead-lettered messages.
func WithDLQMaxRetries(retries int) DLQOption {
	return func(h *DLQHandler) {
		h.maxRetries = retries
	}
}

// WithParkedMessageStore sets the store for exhausted messages.
func WithParkedMessageStore(store *ParkedMessageStore) DLQOption {
	return func(h *DLQHandler) {
		h.store = store
	}
}

// NewDLQHandler creates a DLQ handler.
func NewDLQHandler(republish RepublishFunc, options ...DLQOption) *DLQHandler {
	h := &DLQHandler{
		logger:     slog.Default(),
		maxRetries: 3,
		republish:  republish,
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// Process handles one dead-lettered delivery. Returns nil when the message
// was re-published or parked; an error means the delivery should stay on
// the dead-letter queue.
func (h *DLQHandler) Process(ctx context.Context, delivery amqp.Delivery) error {
	deaths := DeathCount(delivery.Headers)
	routingKey := originalRoutingKey(delivery)

	h.logger.Info("processing dead-lettered message",
		"messageId", delivery.MessageId,
		"routingKey", routingKey,
		"deaths", deaths,
	)

	if deaths < int64(h.maxRetries) && h.republish != nil {
		if err := h.republish(ctx, routingKey, delivery.Body, delivery.Headers); err != nil {
			h.logger.Error("failed to republish dead-lettered message",
				"messageId", delivery.MessageId,
				"error", err,
			)
			return err
		}
		return nil
	}

	if h.store != nil {
		h.store.Park(ParkedMessage{
			MessageID:  delivery.MessageId,
			RoutingKey: routingKey,
			Body:       delivery.Body,
			Deaths:     deaths,
			ParkedAt:   time.Now(),
		})
	}

	h.logger.Warn("message exhausted its retry budget",
		"messageId", delivery.MessageId,
		"routingKey", routingKey,
		"deaths", deaths,
	)

	return nil
}

// DeathCount reads the total x-death count the broker stamps on
// dead-lettered messages. Zero when the header is absent.
func DeathCount(headers amqp.Table) int64 {
	if headers == nil {
		return 0
	}

	deaths, ok := headers["x-death"].([]interface{})
	if !ok {
		return 0
	}

	var total int64
	for _, d := range deaths {
		entry, ok := d.(amqp.Table)
		if !ok {
			continue
		}
		switch count := entry["count"].(type) {
		case int64:
			total += count
		case int32:
			total += int64(count)
		case int:
			total += int64(count)
		}
	}
	return total
}

// originalRoutingKey recovers the key the message was first published
// under. The broker records it in the x-death entry; the delivery's own key
// is the dead-letter routing key.
func originalRoutingKey(delivery amqp.Delivery) string {
	if deaths, ok := delivery.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if entry, ok := deaths[0].(amqp.Table); ok {
			if keys, ok := entry["routing-keys"].([]interface{}); ok && len(keys) > 0 {
				if key, ok := keys[0].(string); ok {
					return key
				}
			}
		}
	}
	return delivery.RoutingKey
}
