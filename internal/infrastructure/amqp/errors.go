package amqp

import "errors"

// Sentinel errors for AMQP operations.
var (
	// ErrDisabled indicates AMQP publishing is disabled in config.
	ErrDisabled = errors.New("amqp: disabled in configuration")

	// ErrConnectionFailed indicates the initial dial or channel setup failed.
	ErrConnectionFailed = errors.New("amqp: connection failed")

	// ErrNotConnected indicates the publisher has no open channel.
	ErrNotConnected = errors.New("amqp: not connected")

	// ErrPublishFailed indicates an event could not be encoded or sent.
	ErrPublishFailed = errors.New("amqp: publish failed")
)
