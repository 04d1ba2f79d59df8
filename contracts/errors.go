package contracts

import "errors"

var (
	// ErrInvalidRoutingKey indicates a key that matches no publishable grammar.
	ErrInvalidRoutingKey = errors.New("contracts: invalid routing key")

	// ErrMalformedEnvelope indicates a message body that is not valid JSON.
	// This is permanent; the message is a poison message.
	ErrMalformedEnvelope = errors.New("contracts: malformed envelope")
)
