package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/config"
)

// Client is the presence service's connection to the MQTT bus.
//
// Probes publish requests and collect answers through it, device presence
// events arrive on it, and the recorder mirrors resource state onto it as
// retained messages. Subscriptions survive reconnects. All methods are safe
// for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
	stats         Stats
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Stats describes the bus connection for the metrics endpoint.
type Stats struct {
	Connected     bool      `json:"connected"`
	Subscriptions int       `json:"subscriptions"`
	Reconnects    int       `json:"reconnects"`
	ConnectedAt   time.Time `json:"connected_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. paho runs handlers on its own
// goroutines, so a slow handler delays other deliveries on the same client.
// A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the first connection.
//
// Once connected the client announces itself as online on the retained
// system status topic; the broker's will message flips it to offline if
// the process dies.
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed when the broker is unreachable within the timeout
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The OnConnect handler runs asynchronously; mark the state now so
	// callers can subscribe straight after Connect returns.
	c.mu.Lock()
	c.connected = true
	if c.stats.ConnectedAt.IsZero() {
		c.stats.ConnectedAt = time.Now()
	}
	c.mu.Unlock()

	return c, nil
}

func (c *Client) handleConnect() {
	c.mu.Lock()
	if !c.stats.ConnectedAt.IsZero() && !c.connected {
		c.stats.Reconnects++
	}
	c.connected = true
	c.stats.ConnectedAt = time.Now()
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		subs[topic] = sub
	}
	callback := c.onConnect
	c.mu.Unlock()

	// Clean sessions drop subscriptions on the broker side.
	for topic, sub := range subs {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}

	c.client.Publish(Topics{}.SystemStatus(), statusQoS, true,
		statusPayload(c.cfg.Broker.ClientID, statusOnline, ""))

	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	if err != nil {
		c.stats.LastError = err.Error()
	}
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// Close publishes a graceful offline status and disconnects.
// Calling Close on a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), statusQoS, true,
			statusPayload(c.cfg.Broker.ClientID, statusOffline, reasonShutdown))
		token.WaitTimeout(defaultOpTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// Stats returns a snapshot of the connection counters.
func (c *Client) Stats() Stats {
	connected := c.IsConnected()

	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Connected = connected
	s.Subscriptions = len(c.subscriptions)
	return s
}

// SetOnConnect registers a callback run after every (re)connect, once
// subscriptions have been restored.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback run when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger used for handler errors and panics.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho and keeps a panicking
// handler from taking down the paho router goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
