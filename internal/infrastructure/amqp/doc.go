// Package amqp publishes presence events to a RabbitMQ topic exchange.
//
// It wraps github.com/rabbitmq/amqp091-go. The exchange is declared as a
// durable topic exchange and every event is routed by a key built from the
// configured prefix and a suffix chosen by the caller, typically the new
// resource state:
//
//	presence.alive
//	presence.lost_signal
//	presence.destroyed
//
// Consumers bind queues with patterns such as "presence.lost_signal" or
// "presence.#" to receive the events they care about.
//
// # Usage
//
//	pub, err := amqp.Connect(cfg.AMQP, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pub.Close()
//
//	err = pub.Publish(ctx, "lost_signal", event)
//
// # Reconnection
//
// When the broker closes the connection the publisher redials in the
// background with exponential backoff. Publish returns ErrNotConnected while
// the connection is down; events are not buffered.
package amqp
