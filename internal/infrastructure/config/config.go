package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic GPIO bridge.
// Configuration is loaded from YAML or TOML and can be overridden by
// environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site" toml:"site"`
	Daemon        DaemonConfig        `yaml:"daemon" toml:"daemon"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	History       HistoryConfig       `yaml:"history" toml:"history"`
	MQTT          MQTTConfig          `yaml:"mqtt" toml:"mqtt"`
	API           APIConfig           `yaml:"api" toml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket" toml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb" toml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Security      SecurityConfig      `yaml:"security" toml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id" toml:"id"`
	Name string `yaml:"name" toml:"name"`
}

// DaemonConfig contains pigpio daemon connection settings.
type DaemonConfig struct {
	// Connection is a full connection URL (tcp://, unix://, serial://).
	// When set it takes precedence over Host and Port.
	Connection string `yaml:"connection" toml:"connection"`

	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`

	// ConnectTimeout is in seconds.
	ConnectTimeout int `yaml:"connect_timeout" toml:"connect_timeout"`

	// IOTimeoutMS bounds a single request/response exchange, in milliseconds.
	IOTimeoutMS int `yaml:"io_timeout_ms" toml:"io_timeout_ms"`

	// MaxExtension caps the payload accepted on a bulk read response.
	MaxExtension int `yaml:"max_extension" toml:"max_extension"`

	// TraceFile, when set, records every exchanged packet as CBOR.
	TraceFile string `yaml:"trace_file" toml:"trace_file"`

	// Managed runs pigpiod as a supervised child process.
	Managed ManagedDaemonConfig `yaml:"managed" toml:"managed"`
}

// ManagedDaemonConfig contains settings for a locally supervised pigpiod.
// The bridge connects to it on 127.0.0.1 using Daemon.Port.
type ManagedDaemonConfig struct {
	Enabled    bool     `yaml:"enabled" toml:"enabled"`
	Binary     string   `yaml:"binary" toml:"binary"`
	LocalOnly  bool     `yaml:"local_only" toml:"local_only"`
	SampleRate int      `yaml:"sample_rate" toml:"sample_rate"`
	ExtraArgs  []string `yaml:"extra_args" toml:"extra_args"`

	RestartOnFailure   bool `yaml:"restart_on_failure" toml:"restart_on_failure"`
	MaxRestartAttempts int  `yaml:"max_restart_attempts" toml:"max_restart_attempts"`

	// HealthCheckInterval is in seconds.
	HealthCheckInterval int `yaml:"health_check_interval" toml:"health_check_interval"`
}

// NotificationsConfig contains GPIO state change notification settings.
type NotificationsConfig struct {
	// Pins are enabled for notifications at startup.
	Pins      []int `yaml:"pins" toml:"pins"`
	QueueSize int   `yaml:"queue_size" toml:"queue_size"`
	Workers   int   `yaml:"workers" toml:"workers"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`
}

// HistoryConfig contains pin event history settings.
type HistoryConfig struct {
	// RetentionDays is how long pin events are kept. 0 keeps them forever.
	RetentionDays int `yaml:"retention_days" toml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS       int                 `yaml:"qos" toml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts" toml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" toml:"enabled"`
	Host     string           `yaml:"host" toml:"host"`
	Port     int              `yaml:"port" toml:"port"`
	TLS      TLSConfig        `yaml:"tls" toml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts" toml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors" toml:"cors"`

	// PanelDir serves the dashboard from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir" toml:"panel_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read" toml:"read"`
	Write int `yaml:"write" toml:"write"`
	Idle  int `yaml:"idle" toml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path" toml:"path"`
	MaxMessageSize int    `yaml:"max_message_size" toml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout" toml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt" toml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret" toml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl" toml:"access_token_ttl"`
}

// Load reads configuration from a YAML or TOML file and applies
// environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); ".toml" files are parsed as TOML,
//     everything else as YAML
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DAEMON_HOST, GRAYLOGIC_API_PORT
//
// Parameters:
//   - path: Path to the configuration file
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

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied, for tools that run without a config file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8888,
			ConnectTimeout: 10,
			IOTimeoutMS:    5000,
			MaxExtension:   65536,
			Managed: ManagedDaemonConfig{
				Binary:              "/usr/bin/pigpiod",
				LocalOnly:           true,
				RestartOnFailure:    true,
				MaxRestartAttempts:  10,
				HealthCheckInterval: 30,
			},
		},
		Notifications: NotificationsConfig{
			QueueSize: 100,
			Workers:   2,
		},
		Database: DatabaseConfig{
			Path:        "./data/gpio.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-gpio",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Daemon
	if v := os.Getenv("GRAYLOGIC_DAEMON_CONNECTION"); v != "" {
		cfg.Daemon.Connection = v
	}
	if v := os.Getenv("GRAYLOGIC_DAEMON_HOST"); v != "" {
		cfg.Daemon.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_DAEMON_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Daemon.Port = port
		}
	}

	if v := os.Getenv("GRAYLOGIC_DAEMON_MANAGED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Daemon.Managed.Enabled = enabled
		}
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Daemon validation
	if c.Daemon.Connection != "" {
		u, err := url.Parse(c.Daemon.Connection)
		if err != nil {
			errs = append(errs, "daemon.connection is not a valid URL")
		} else if u.Scheme != "tcp" && u.Scheme != "unix" && u.Scheme != "serial" {
			errs = append(errs, "daemon.connection scheme must be tcp, unix or serial")
		}
	} else if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		errs = append(errs, "daemon.port must be between 1 and 65535")
	}
	if c.Daemon.IOTimeoutMS < 0 {
		errs = append(errs, "daemon.io_timeout_ms must not be negative")
	}
	if m := c.Daemon.Managed; m.Enabled {
		if c.Daemon.Connection != "" {
			errs = append(errs, "daemon.connection must be empty when daemon.managed is enabled")
		}
		if m.Binary == "" {
			errs = append(errs, "daemon.managed.binary is required")
		}
		switch m.SampleRate {
		case 0, 1, 2, 4, 5, 8, 10:
		default:
			errs = append(errs, "daemon.managed.sample_rate must be one of 1, 2, 4, 5, 8, 10")
		}
		if m.MaxRestartAttempts < 0 {
			errs = append(errs, "daemon.managed.max_restart_attempts must not be negative")
		}
	}

	for _, pin := range c.Notifications.Pins {
		if pin < 0 || pin > 31 {
			errs = append(errs, fmt.Sprintf("notifications.pins: %d is outside 0..31", pin))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The API can drive outputs, so tokens must not be forgeable.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ConnectionURL returns the daemon connection URL, built from Host and
// Port when Connection is empty.
func (d DaemonConfig) ConnectionURL() string {
	if d.Connection != "" {
		return d.Connection
	}
	return "tcp://" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// GetHealthCheckInterval returns the managed daemon watchdog interval as
// a Duration.
func (m ManagedDaemonConfig) GetHealthCheckInterval() time.Duration {
	return time.Duration(m.HealthCheckInterval) * time.Second
}

// GetConnectTimeout returns the daemon connect timeout as a Duration.
func (d DaemonConfig) GetConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// GetIOTimeout returns the daemon exchange timeout as a Duration.
func (d DaemonConfig) GetIOTimeout() time.Duration {
	return time.Duration(d.IOTimeoutMS) * time.Millisecond
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
