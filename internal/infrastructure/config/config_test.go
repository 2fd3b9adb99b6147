package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
daemon:
  host: "192.168.1.50"
  port: 8889
  io_timeout_ms: 250
notifications:
  pins: [4, 17]
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  enabled: true
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if got := cfg.Daemon.ConnectionURL(); got != "tcp://192.168.1.50:8889" {
		t.Errorf("Daemon.ConnectionURL() = %q, want tcp://192.168.1.50:8889", got)
	}
	if got := cfg.Daemon.GetIOTimeout(); got != 250*time.Millisecond {
		t.Errorf("Daemon.GetIOTimeout() = %v, want 250ms", got)
	}
	if len(cfg.Notifications.Pins) != 2 || cfg.Notifications.Pins[1] != 17 {
		t.Errorf("Notifications.Pins = %v, want [4 17]", cfg.Notifications.Pins)
	}
	// Unset values keep their defaults.
	if cfg.Daemon.ConnectTimeout != 10 {
		t.Errorf("Daemon.ConnectTimeout = %d, want default 10", cfg.Daemon.ConnectTimeout)
	}
	if cfg.Notifications.Workers != 2 {
		t.Errorf("Notifications.Workers = %d, want default 2", cfg.Notifications.Workers)
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
[site]
id = "toml-site"

[daemon]
connection = "unix:///var/run/pigpio.sock"

[database]
path = "/tmp/toml.db"

[api]
enabled = false
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "toml-site" {
		t.Errorf("Site.ID = %q, want toml-site", cfg.Site.ID)
	}
	if got := cfg.Daemon.ConnectionURL(); got != "unix:///var/run/pigpio.sock" {
		t.Errorf("Daemon.ConnectionURL() = %q", got)
	}
	if cfg.API.Enabled {
		t.Error("API.Enabled = true, want false")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "[site\nid = "))
	if err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
api:
  enabled: false
`
	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(*Config) {},
		},
		{
			name:    "missing site ID",
			modify:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "invalid daemon port",
			modify:  func(c *Config) { c.Daemon.Port = 0 },
			wantErr: "daemon.port",
		},
		{
			name: "connection URL replaces port check",
			modify: func(c *Config) {
				c.Daemon.Port = 0
				c.Daemon.Connection = "serial:///dev/ttyUSB0?baud=57600"
			},
		},
		{
			name:    "unsupported connection scheme",
			modify:  func(c *Config) { c.Daemon.Connection = "http://localhost:8888" },
			wantErr: "daemon.connection",
		},
		{
			name: "managed daemon",
			modify: func(c *Config) {
				c.Daemon.Managed.Enabled = true
				c.Daemon.Managed.SampleRate = 2
			},
		},
		{
			name: "managed daemon with connection URL",
			modify: func(c *Config) {
				c.Daemon.Managed.Enabled = true
				c.Daemon.Connection = "unix:///var/run/pigpio.sock"
			},
			wantErr: "daemon.connection must be empty",
		},
		{
			name: "managed daemon bad sample rate",
			modify: func(c *Config) {
				c.Daemon.Managed.Enabled = true
				c.Daemon.Managed.SampleRate = 3
			},
			wantErr: "daemon.managed.sample_rate",
		},
		{
			name: "managed daemon without binary",
			modify: func(c *Config) {
				c.Daemon.Managed.Enabled = true
				c.Daemon.Managed.Binary = ""
			},
			wantErr: "daemon.managed.binary",
		},
		{
			name:    "notification pin out of range",
			modify:  func(c *Config) { c.Notifications.Pins = []int{4, 32} },
			wantErr: "notifications.pins",
		},
		{
			name:    "missing database path",
			modify:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid API port",
			modify:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "missing JWT secret",
			modify:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret",
		},
		{
			name:    "JWT secret too short",
			modify:  func(c *Config) { c.Security.JWT.Secret = "too-short" },
			wantErr: "at least 32 characters",
		},
		{
			name: "JWT secret not needed without API",
			modify: func(c *Config) {
				c.API.Enabled = false
				c.Security.JWT.Secret = ""
			},
		},
		{
			name:    "influxdb enabled without URL",
			modify:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GRAYLOGIC_DAEMON_HOST", "pi.local")
	t.Setenv("GRAYLOGIC_DAEMON_PORT", "9999")
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/env/gpio.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "broker.local")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "bridge")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "secret")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "token")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")
	t.Setenv("GRAYLOGIC_JWT_SECRET", validJWTSecret)

	cfg := Default()

	if got := cfg.Daemon.ConnectionURL(); got != "tcp://pi.local:9999" {
		t.Errorf("Daemon.ConnectionURL() = %q, want tcp://pi.local:9999", got)
	}
	if cfg.Database.Path != "/env/gpio.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Auth.Username != "bridge" || cfg.MQTT.Auth.Password != "secret" {
		t.Errorf("MQTT overrides not applied: %+v", cfg.MQTT)
	}
	if cfg.InfluxDB.Token != "token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyEnvOverrides_ConnectionURL(t *testing.T) {
	t.Setenv("GRAYLOGIC_DAEMON_CONNECTION", "serial:///dev/ttyAMA0")

	cfg := Default()
	if got := cfg.Daemon.ConnectionURL(); got != "serial:///dev/ttyAMA0" {
		t.Errorf("Daemon.ConnectionURL() = %q", got)
	}
}

func TestLoad_ManagedDaemon(t *testing.T) {
	content := `
site:
  id: "managed"
daemon:
  port: 8889
  managed:
    enabled: true
    sample_rate: 4
    extra_args: ["-t", "0"]
database:
  path: "/tmp/managed.db"
api:
  enabled: false
`
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	m := cfg.Daemon.Managed
	if !m.Enabled || m.SampleRate != 4 || len(m.ExtraArgs) != 2 {
		t.Errorf("Daemon.Managed = %+v", m)
	}
	// Unset values keep their defaults.
	if m.Binary != "/usr/bin/pigpiod" || !m.LocalOnly || !m.RestartOnFailure {
		t.Errorf("Daemon.Managed defaults lost: %+v", m)
	}
	if got := m.GetHealthCheckInterval(); got != 30*time.Second {
		t.Errorf("GetHealthCheckInterval() = %v, want 30s", got)
	}
}

func TestApplyEnvOverrides_Managed(t *testing.T) {
	t.Setenv("GRAYLOGIC_DAEMON_MANAGED", "true")

	if cfg := Default(); !cfg.Daemon.Managed.Enabled {
		t.Error("Daemon.Managed.Enabled = false, want true from environment")
	}
}

func TestTimeoutGetters(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v", got)
	}
	if got := cfg.Daemon.GetConnectTimeout(); got != 10*time.Second {
		t.Errorf("GetConnectTimeout() = %v", got)
	}
	if got := cfg.Daemon.GetIOTimeout(); got != 5*time.Second {
		t.Errorf("GetIOTimeout() = %v", got)
	}
}
