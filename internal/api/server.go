// Package api provides the HTTP REST API and WebSocket server for Gray Logic
// Presence.
//
// It exposes monitor management, device presence and live state streams to
// user interfaces and other services.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-presence/internal/monitor"
	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Monitors is the monitor service surface the API needs.
// *monitor.Service satisfies it.
type Monitors interface {
	Monitor(ctx context.Context, t monitor.Target) (monitor.Target, error)
	Release(ctx context.Context, id string) error
	Get(id string) (monitor.Status, error)
	List() []monitor.Status
	SetMode(id string, mode presence.Mode) error
	Watch(id string, requesterID presence.RequesterID, cb presence.Callback) error
	Unwatch(id string, requesterID presence.RequesterID) error
	UnwatchAll(requesterID presence.RequesterID)
	Devices() []presence.DeviceInfo
	History(ctx context.Context, id string, limit int) ([]monitor.Transition, error)
}

// BusStatus reports message bus connectivity. *mqtt.Client satisfies it.
type BusStatus interface {
	Stats() mqtt.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Monitors Monitors
	Metrics  *metrics.Metrics // optional: enables GET /metrics and request metrics
	Bus      BusStatus        // optional: reported by GET /api/v1/metrics
	Version  string
}

// Server is the HTTP API server for Gray Logic Presence.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	monitors  Monitors
	metrics   *metrics.Metrics
	bus       BusStatus
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, monitor service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Monitors == nil {
		return nil, fmt.Errorf("monitor service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		monitors:  deps.Monitors,
		metrics:   deps.Metrics,
		bus:       deps.Bus,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.monitors, s.metrics)

	return s, nil
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It disconnects WebSocket clients, then waits up to 10 seconds for
// in-flight requests to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
