package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "GRAYLOGIC_PRESENCE_"

// Config is the root configuration structure for the presence service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Presence  PresenceConfig  `yaml:"presence"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// AMQPConfig contains RabbitMQ settings for transition events.
type AMQPConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`

	// Exchange is declared as a durable topic exchange.
	Exchange string `yaml:"exchange"`

	// RoutingPrefix is joined with the new state, e.g. "presence.lost_signal".
	RoutingPrefix string `yaml:"routing_prefix"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings.
//
// When Secret is empty, mutating API routes are not authenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// PresenceConfig contains the liveness protocol timings and static targets.
type PresenceConfig struct {
	// SafeInterval is the probe cadence.
	SafeInterval time.Duration `yaml:"safe_interval"`

	// SafeTimeout is the grace window after a response. It must not be
	// shorter than SafeInterval.
	SafeTimeout time.Duration `yaml:"safe_timeout"`

	// RequestTimeout bounds a single MQTT or HTTP probe.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DeviceTimeout is how long a device stays alive without a presence event.
	DeviceTimeout time.Duration `yaml:"device_timeout"`

	// HistoryRetention is how long transition history is kept. Zero keeps it forever.
	HistoryRetention time.Duration `yaml:"history_retention"`

	// Resources are monitored from startup in addition to persisted targets.
	Resources []ResourceConfig `yaml:"resources"`
}

// ResourceConfig describes one statically configured monitored resource.
type ResourceConfig struct {
	URI       string `yaml:"uri"`
	Host      string `yaml:"host"`
	Transport string `yaml:"transport"`
	URL       string `yaml:"url"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_PRESENCE_SECTION_KEY
// For example: GRAYLOGIC_PRESENCE_DATABASE_PATH, GRAYLOGIC_PRESENCE_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from a .env file into the process
// environment. Variables that are already set win. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/presence.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-presence",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		AMQP: AMQPConfig{
			Exchange:      "graylogic.presence",
			RoutingPrefix: "presence",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "graylogic_presence",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Presence: PresenceConfig{
			SafeInterval:     5 * time.Second,
			SafeTimeout:      5 * time.Second,
			RequestTimeout:   4 * time.Second,
			DeviceTimeout:    30 * time.Second,
			HistoryRetention: 30 * 24 * time.Hour,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setString := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	// Database
	setString("DATABASE_PATH", &cfg.Database.Path)

	// MQTT
	setString("MQTT_HOST", &cfg.MQTT.Broker.Host)
	setInt("MQTT_PORT", &cfg.MQTT.Broker.Port)
	setString("MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// InfluxDB
	setBool("INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	setString("INFLUXDB_URL", &cfg.InfluxDB.URL)
	setString("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// AMQP
	setBool("AMQP_ENABLED", &cfg.AMQP.Enabled)
	setString("AMQP_URL", &cfg.AMQP.URL)

	// API
	setString("API_HOST", &cfg.API.Host)
	setInt("API_PORT", &cfg.API.Port)

	// Logging
	setString("LOG_LEVEL", &cfg.Logging.Level)

	// Security - set the JWT secret from the environment in production
	setString("JWT_SECRET", &cfg.Security.JWT.Secret)

	// Presence
	setDuration("SAFE_INTERVAL", &cfg.Presence.SafeInterval)
	setDuration("SAFE_TIMEOUT", &cfg.Presence.SafeTimeout)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// AMQP validation
	if c.AMQP.Enabled {
		if c.AMQP.URL == "" {
			errs = append(errs, "amqp.url is required when amqp is enabled")
		}
		if c.AMQP.Exchange == "" {
			errs = append(errs, "amqp.exchange is required when amqp is enabled")
		}
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation. The secret is optional, but a short one lets
	// anyone who can guess it forge tokens.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	// Presence validation
	if c.Presence.SafeInterval <= 0 {
		errs = append(errs, "presence.safe_interval must be positive")
	}
	if c.Presence.SafeTimeout <= 0 {
		errs = append(errs, "presence.safe_timeout must be positive")
	} else if c.Presence.SafeTimeout < c.Presence.SafeInterval {
		errs = append(errs, "presence.safe_timeout must not be shorter than presence.safe_interval")
	}
	if c.Presence.RequestTimeout <= 0 {
		errs = append(errs, "presence.request_timeout must be positive")
	}
	if c.Presence.DeviceTimeout < 0 {
		errs = append(errs, "presence.device_timeout must not be negative")
	}
	for i, r := range c.Presence.Resources {
		if r.URI == "" || r.Host == "" {
			errs = append(errs, fmt.Sprintf("presence.resources[%d]: uri and host are required", i))
		}
		switch r.Transport {
		case "mqtt", "":
		case "http":
			if r.URL == "" {
				errs = append(errs, fmt.Sprintf("presence.resources[%d]: url is required for http transport", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("presence.resources[%d]: unknown transport %q", i, r.Transport))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
