// Gray Logic Presence - Resource Liveness Broker
//
// This is the main entry point for the Gray Logic Presence service. It keeps
// a live reachability state for every monitored resource in the installation:
//   - Active polling over MQTT or HTTP, or passive device-wide presence
//   - Per-device grouping of resources
//   - Transition history, time series and event fan-out
//   - REST and WebSocket access for user interfaces
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-presence/migrations"

	"github.com/nerrad567/gray-logic-presence/internal/api"
	"github.com/nerrad567/gray-logic-presence/internal/expiry"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/amqp"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-presence/internal/monitor"
	"github.com/nerrad567/gray-logic-presence/internal/presence"
	"github.com/nerrad567/gray-logic-presence/internal/probe"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration and dotenv paths
const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvPath    = ".env"
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Presence",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadDotEnv(getEnvPath()); err != nil {
		return fmt.Errorf("loading environment file: %w", err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	if status, statusErr := db.MigrationStatus(ctx); statusErr == nil {
		log.Info("database migrations complete", "schema_version", status.Current())
	}

	// Expiry timer service drives every broker, device and probe timeout
	timers := expiry.New()
	defer timers.Close()

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Prometheus collectors (optional)
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
		m.SetBuildInfo(version)
	}

	sinks := monitor.Sinks{
		History:   monitor.NewSQLiteHistoryRepository(db.DB),
		Publisher: mqttClient,
	}
	if m != nil {
		sinks.Metrics = m
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks.Series = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to AMQP (optional)
	if cfg.AMQP.Enabled {
		publisher, amqpErr := amqp.Connect(cfg.AMQP, log.Component("amqp"))
		if amqpErr != nil {
			return fmt.Errorf("connecting to AMQP: %w", amqpErr)
		}
		defer func() {
			log.Info("closing AMQP connection")
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error("error closing AMQP", "error", closeErr)
			}
		}()
		sinks.Events = publisher
		log.Info("AMQP connected", "exchange", cfg.AMQP.Exchange)
	} else {
		log.Info("AMQP disabled")
	}

	// MQTT probe transport
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2
	prober := probe.NewMQTTProber(mqttClient, timers, probe.MQTTOptions{
		RequestTimeout: cfg.Presence.RequestTimeout,
		QoS:            qos,
		Logger:         log.Component("probe"),
	})
	if startErr := prober.Start(); startErr != nil {
		return fmt.Errorf("starting MQTT prober: %w", startErr)
	}
	defer func() {
		if stopErr := prober.Stop(); stopErr != nil {
			log.Error("error stopping MQTT prober", "error", stopErr)
		}
	}()

	// Monitor service
	svc, err := monitor.New(monitor.Options{
		Config:           presenceConfig(cfg.Presence),
		Timers:           timers,
		Targets:          monitor.NewSQLiteTargetRepository(db.DB),
		Resources:        monitor.NewResourceFactory(prober, probe.HTTPOptions{RequestTimeout: cfg.Presence.RequestTimeout}),
		Sinks:            sinks,
		Bus:              mqttClient,
		QoS:              qos,
		HistoryRetention: cfg.Presence.HistoryRetention,
		Logger:           log.Component("monitor"),
	})
	if err != nil {
		return fmt.Errorf("creating monitor service: %w", err)
	}
	if startErr := svc.Start(ctx); startErr != nil {
		return fmt.Errorf("starting monitor service: %w", startErr)
	}
	defer func() {
		log.Info("stopping monitor service")
		if closeErr := svc.Close(); closeErr != nil {
			log.Error("error stopping monitor service", "error", closeErr)
		}
	}()

	if monErr := monitorStatic(ctx, svc, cfg.Presence.Resources, log); monErr != nil {
		return monErr
	}

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Monitors: svc,
		Metrics:  m,
		Bus:      mqttClient,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"monitors", len(svc.List()),
		"devices", len(svc.Devices()),
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for waiting := true; waiting; {
		select {
		case <-ctx.Done():
			waiting = false
		case <-hup:
			reloadLogLevel(configPath, log)
		}
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred functions run in LIFO order:
	// API -> monitor service -> prober -> AMQP -> InfluxDB -> MQTT -> timers -> database

	log.Info("Gray Logic Presence stopped")
	return nil
}

// getConfigPath returns the config file path from environment or default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_PRESENCE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// getEnvPath returns the dotenv file path from environment or default.
func getEnvPath() string {
	if path := os.Getenv("GRAYLOGIC_PRESENCE_ENV_FILE"); path != "" {
		return path
	}
	return defaultEnvPath
}

// reloadLogLevel re-reads the config file and applies its logging level.
// Other settings need a restart. A broken file leaves the level unchanged.
func reloadLogLevel(configPath string, log *logging.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("reloading config", "path", configPath, "error", err)
		return
	}
	log.SetLevel(cfg.Logging.Level)
	log.Info("log level reloaded", "level", log.Level().String())
}

// presenceConfig converts the configured timings into broker settings.
func presenceConfig(cfg config.PresenceConfig) presence.Config {
	return presence.Config{
		SafeInterval:  cfg.SafeInterval,
		SafeTimeout:   cfg.SafeTimeout,
		DeviceTimeout: cfg.DeviceTimeout,
	}
}

// staticTargets converts configured resources into monitor targets.
func staticTargets(resources []config.ResourceConfig) []monitor.Target {
	targets := make([]monitor.Target, 0, len(resources))
	for _, r := range resources {
		targets = append(targets, monitor.Target{
			URI:       r.URI,
			Host:      r.Host,
			Transport: monitor.Transport(r.Transport),
			URL:       r.URL,
		})
	}
	return targets
}

// targetMonitor is the part of the monitor service monitorStatic needs.
type targetMonitor interface {
	Monitor(ctx context.Context, t monitor.Target) (monitor.Target, error)
}

// monitorStatic starts monitoring every configured resource. Resources
// already restored from the database are left as they are.
func monitorStatic(ctx context.Context, svc targetMonitor, resources []config.ResourceConfig, log *logging.Logger) error {
	for _, t := range staticTargets(resources) {
		stored, err := svc.Monitor(ctx, t)
		switch {
		case errors.Is(err, monitor.ErrTargetExists):
			log.Debug("configured resource already monitored", "monitor_id", stored.ID, "uri", t.URI, "host", t.Host)
		case err != nil:
			return fmt.Errorf("monitoring configured resource %s on %s: %w", t.URI, t.Host, err)
		default:
			log.Info("monitoring configured resource", "monitor_id", stored.ID, "uri", t.URI, "host", t.Host)
		}
	}
	return nil
}

// healthCheck verifies all critical infrastructure is responsive.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
