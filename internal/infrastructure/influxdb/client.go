package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the part of the influx non-blocking WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
	Errors() <-chan error
}

// pinger checks server health. influxdb2.Client satisfies it.
type pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// Client writes presence transitions and probe results to an InfluxDB v2
// bucket. Writes are batched by the underlying WriteAPI and never block
// the caller; failures arrive through the SetOnError callback.
//
// All methods are safe for concurrent use.
type Client struct {
	server influxdb2.Client
	ping   pinger
	writer pointWriter
	cfg    config.InfluxDBConfig

	mu        sync.RWMutex
	connected bool
	onError   func(err error)

	written atomic.Uint64
	failed  atomic.Uint64
}

// Stats counts points handed to the writer and async write failures.
type Stats struct {
	PointsWritten uint64 `json:"points_written"`
	WriteErrors   uint64 `json:"write_errors"`
}

// Connect pings the server and opens a batching write API for the
// configured org and bucket.
//
// Returns:
//   - *Client: Ready to write
//   - error: ErrDisabled when influxdb.enabled is false, ErrConnectionFailed
//     when the server does not answer a ping
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	if err := checkHealth(ctx, server); err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := newClient(server, server.WriteAPI(cfg.Org, cfg.Bucket), cfg)
	c.server = server
	return c, nil
}

// newClient wires a writer and starts draining its error channel.
func newClient(ping pinger, writer pointWriter, cfg config.InfluxDBConfig) *Client {
	c := &Client{
		ping:      ping,
		writer:    writer,
		cfg:       cfg,
		connected: true,
	}
	go c.handleWriteErrors(writer.Errors())
	return c
}

// writeOptions applies batching settings, falling back to defaults for
// zero or negative values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize) // #nosec G115 -- checked positive
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive duration
}

func checkHealth(ctx context.Context, p pinger) error {
	healthy, err := p.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.failed.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// write queues p unless the client has been closed.
func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.written.Add(1)
	c.writer.WritePoint(p)
}

// Close flushes buffered points and releases the connection.
// Writes after Close are dropped silently.
func (c *Client) Close() error {
	if c == nil || c.writer == nil {
		return nil
	}

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()
	if !wasConnected {
		return nil
	}

	c.writer.Flush()
	if c.server != nil {
		c.server.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := checkHealth(checkCtx, c.ping); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected is false once Close has been called.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.writer == nil || !c.IsConnected() {
		return
	}
	c.writer.Flush()
}

// Stats returns the write counters.
func (c *Client) Stats() Stats {
	return Stats{
		PointsWritten: c.written.Load(),
		WriteErrors:   c.failed.Load(),
	}
}
