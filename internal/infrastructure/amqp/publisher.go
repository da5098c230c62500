package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/config"
)

const (
	exchangeKind = "topic"

	reconnectInitialDelay = 1 * time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// Logger is the logging surface the publisher needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher sends JSON events to a durable topic exchange.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Publisher struct {
	cfg    config.AMQPConfig
	logger Logger

	mu      sync.RWMutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	closing bool
	done    chan struct{}
}

// Connect dials the broker, opens a channel and declares the exchange.
//
// Parameters:
//   - cfg: AMQP configuration from config.yaml
//   - logger: Receives connection lifecycle events (nil for none)
//
// Returns:
//   - *Publisher: Connected publisher ready for use
//   - error: ErrDisabled if publishing is off, ErrConnectionFailed otherwise
func Connect(cfg config.AMQPConfig, logger Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = noopLogger{}
	}

	p := &Publisher{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := p.dial(); err != nil {
		return nil, err
	}

	return p, nil
}

// dial opens a connection and channel and installs them on the publisher.
func (p *Publisher) dial() error {
	conn, err := amqp091.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck // already failing
		return fmt.Errorf("%w: open channel: %w", ErrConnectionFailed, err)
	}

	err = ch.ExchangeDeclare(
		p.cfg.Exchange, // name
		exchangeKind,   // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		conn.Close() //nolint:errcheck // already failing
		return fmt.Errorf("%w: declare exchange %q: %w", ErrConnectionFailed, p.cfg.Exchange, err)
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		conn.Close() //nolint:errcheck // publisher closed while dialling
		return nil
	}
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	p.logger.Info("amqp connected", "exchange", p.cfg.Exchange)

	go p.watch(conn.NotifyClose(make(chan *amqp091.Error, 1)))
	return nil
}

// watch waits for the connection to close and redials unless Close was called.
func (p *Publisher) watch(closed <-chan *amqp091.Error) {
	amqpErr, ok := <-closed

	p.mu.Lock()
	p.channel = nil
	p.conn = nil
	closing := p.closing
	p.mu.Unlock()

	if closing {
		return
	}
	if ok && amqpErr != nil {
		p.logger.Warn("amqp connection lost", "error", amqpErr.Error())
	}

	delay := reconnectInitialDelay
	for {
		select {
		case <-p.done:
			return
		case <-time.After(delay):
		}

		if err := p.dial(); err != nil {
			p.logger.Error("amqp reconnect failed", "error", err, "retry_in", delay)
			delay = nextDelay(delay)
			continue
		}
		return
	}
}

// nextDelay doubles d up to reconnectMaxDelay.
func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}

// Publish encodes v as JSON and sends it with routing key prefix.suffix.
//
// Parameters:
//   - ctx: Bounds the publish call
//   - suffix: Routing key suffix, typically the new state
//   - v: Event payload, encoded as JSON
//
// Returns:
//   - error: ErrNotConnected while disconnected, ErrPublishFailed on failure
func (p *Publisher) Publish(ctx context.Context, suffix string, v any) error {
	msg, err := newPublishing(v, time.Now())
	if err != nil {
		return err
	}

	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	key := RoutingKey(p.cfg.RoutingPrefix, suffix)
	if err := ch.PublishWithContext(ctx, p.cfg.Exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, key, err)
	}
	return nil
}

// IsConnected reports whether the publisher currently holds an open channel.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && !p.conn.IsClosed()
}

// Close stops reconnection and closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	close(p.done)
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return fmt.Errorf("amqp close: %w", err)
	}
	return nil
}

// RoutingKey joins prefix and suffix with a dot. Either may be empty.
func RoutingKey(prefix, suffix string) string {
	prefix = strings.Trim(prefix, ".")
	suffix = strings.Trim(suffix, ".")
	switch {
	case prefix == "":
		return suffix
	case suffix == "":
		return prefix
	default:
		return prefix + "." + suffix
	}
}

// newPublishing builds a persistent JSON message.
func newPublishing(v any, now time.Time) (amqp091.Publishing, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("%w: encode: %w", ErrPublishFailed, err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    now,
		Body:         body,
	}, nil
}
