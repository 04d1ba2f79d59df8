// Package rabbitmq wraps the AMQP client with connection management,
// channel pooling, topology declaration, confirmed publishing, and
// manual-ack consumption. Nothing in this package knows about notification
// semantics; it is the transport the fan-out layer rides on.
package rabbitmq
