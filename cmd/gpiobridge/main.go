// Gray Logic GPIO Bridge
//
// This is the main entry point for the GPIO bridge service. It connects to
// a pigpio daemon and exposes its pins to the rest of the Gray Logic stack:
//   - pin state changes published over MQTT, stored in SQLite and InfluxDB
//   - MQTT and REST commands to read, drive and watch pins
//   - a WebSocket stream of live pin events and a dashboard at /panel
//   - an audit trail of every write and notify command
//
// Usage:
//
//	gpiobridge [-config path]
//	gpiobridge -token operator [-subject name]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-gpio/internal/api"
	"github.com/nerrad567/gray-logic-gpio/internal/audit"
	"github.com/nerrad567/gray-logic-gpio/internal/auth"
	"github.com/nerrad567/gray-logic-gpio/internal/bridge"
	"github.com/nerrad567/gray-logic-gpio/internal/history"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/tracelog"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpiod"
	"github.com/nerrad567/gray-logic-gpio/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/gpio.yaml"

// sessionShutdownTimeout bounds Terminate during shutdown.
const sessionShutdownTimeout = 5 * time.Second

func main() {
	configFlag := flag.String("config", "", "Path to the configuration file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	tokenRole := flag.String("token", "", "Print a signed API token for the given role (viewer, operator, admin) and exit")
	tokenSubject := flag.String("subject", "gpiobridge-cli", "Subject of the token printed by -token")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gpiobridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	configPath := getConfigPath(*configFlag)

	if *tokenRole != "" {
		if err := printToken(os.Stdout, configPath, *tokenSubject, auth.Role(*tokenRole)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic GPIO bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	historyRepo := history.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

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
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Supervise a local pigpiod (optional)
	daemon, err := startDaemon(ctx, cfg, log)
	if err != nil {
		return err
	}
	if daemon != nil {
		defer func() {
			log.Info("stopping pigpiod")
			if stopErr := daemon.Stop(); stopErr != nil {
				log.Error("error stopping pigpiod", "error", stopErr)
			}
		}()
		cfg.Daemon.Connection = daemon.Config().ConnectionURL()
	}

	// Connect to the pigpio daemon
	session, err := startSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("terminating pigpio session")
		termCtx, cancel := context.WithTimeout(context.Background(), sessionShutdownTimeout)
		defer cancel()
		if termErr := session.Terminate(termCtx); termErr != nil {
			log.Error("error terminating pigpio session", "error", termErr)
		}
	}()

	// Packet trace (optional)
	if cfg.Daemon.TraceFile != "" {
		tracer, traceErr := tracelog.NewFileTracer(cfg.Daemon.TraceFile)
		if traceErr != nil {
			return fmt.Errorf("opening trace file: %w", traceErr)
		}
		session.SetTracer(tracer)
		defer func() {
			session.SetTracer(nil)
			written, failed := tracer.Counts()
			log.Info("closing trace file", "path", cfg.Daemon.TraceFile, "records", written, "failed", failed)
			if closeErr := tracer.Close(); closeErr != nil {
				log.Error("error closing trace file", "error", closeErr)
			}
		}()
		log.Info("packet trace enabled", "path", cfg.Daemon.TraceFile, "session_id", tracer.SessionID())
	}

	// The WebSocket hub is shared by the bridge (producer) and the API.
	hub := api.NewHub(cfg.WebSocket, log)

	opts := bridge.Options{
		GPIO:        session,
		MQTTClient:  &mqttBridgeAdapter{client: mqttClient},
		History:     historyRepo,
		Audit:       auditRepo,
		Broadcaster: hub,
		Logger:      log,
		Version:     version,
		Retention:   time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	gpioBridge, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating GPIO bridge: %w", err)
	}
	if startErr := gpioBridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting GPIO bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping GPIO bridge")
		gpioBridge.Stop()
	}()
	log.Info("GPIO bridge started")

	// Pins configured for notifications go through the bridge so their
	// state is published straight away.
	for _, pin := range cfg.Notifications.Pins {
		if notifyErr := gpioBridge.SetNotifications(ctx, pin, true); notifyErr != nil {
			return fmt.Errorf("enabling notifications on GPIO %d: %w", pin, notifyErr)
		}
		if _, readErr := gpioBridge.Read(ctx, pin); readErr != nil {
			log.Warn("initial read failed", "pin", pin, "error", readErr)
		}
	}
	if len(cfg.Notifications.Pins) > 0 {
		log.Info("notifications enabled", "pins", cfg.Notifications.Pins)
	}

	// Start HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			GPIO:     gpioBridge,
			Session:  session,
			History:  historyRepo,
			Audit:    auditRepo,
			Hub:      hub,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		// Without the API nobody else runs the hub.
		go hub.Run(ctx)
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, daemon); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, bridge, trace file, pigpio session, pigpiod, InfluxDB, MQTT, database.

	log.Info("Gray Logic GPIO bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path: the -config flag if
// given, then GRAYLOGIC_CONFIG, then the default.
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startDaemon starts the supervised pigpiod when daemon.managed is
// enabled. It returns nil when the daemon is run externally.
func startDaemon(ctx context.Context, cfg *config.Config, log *logging.Logger) (*pigpiod.Manager, error) {
	managed := cfg.Daemon.Managed
	if !managed.Enabled {
		return nil, nil //nolint:nilnil // nil manager means an external daemon
	}

	manager, err := pigpiod.NewManager(pigpiod.Config{
		Binary:              managed.Binary,
		Port:                cfg.Daemon.Port,
		LocalOnly:           managed.LocalOnly,
		SampleRate:          managed.SampleRate,
		ExtraArgs:           managed.ExtraArgs,
		RestartOnFailure:    managed.RestartOnFailure,
		MaxRestartAttempts:  managed.MaxRestartAttempts,
		HealthCheckInterval: managed.GetHealthCheckInterval(),
		ReadyTimeout:        cfg.Daemon.GetConnectTimeout(),
	})
	if err != nil {
		return nil, err
	}
	manager.SetLogger(log.With("component", "pigpiod"))

	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting pigpiod: %w", err)
	}
	log.Info("pigpiod started", "pid", manager.PID(), "url", manager.Config().ConnectionURL())
	return manager, nil
}

// startSession builds the pigpio session from the daemon config and
// initialises it.
func startSession(ctx context.Context, cfg *config.Config, log *logging.Logger) (*pigpio.Session, error) {
	connURL := cfg.Daemon.ConnectionURL()
	dialer, err := pigpio.DialerFromURL(connURL, cfg.Daemon.GetConnectTimeout())
	if err != nil {
		return nil, fmt.Errorf("daemon connection: %w", err)
	}

	session := pigpio.NewSession(pigpio.Config{
		Dialer:         dialer,
		ConnectTimeout: cfg.Daemon.GetConnectTimeout(),
		IOTimeout:      cfg.Daemon.GetIOTimeout(),
		MaxExtension:   cfg.Daemon.MaxExtension,
		EventQueueSize: cfg.Notifications.QueueSize,
		EventWorkers:   cfg.Notifications.Workers,
	}, log.With("component", "pigpio"))

	daemonVersion, err := session.Initialize(ctx)
	if err != nil {
		// Release the transport if the version query got that far.
		_ = session.Terminate(context.Background())
		return nil, fmt.Errorf("connecting to pigpio daemon at %s: %w", connURL, err)
	}
	log.Info("pigpio daemon connected", "url", connURL, "daemon_version", daemonVersion)

	return session, nil
}

// printToken writes a signed access token for role to w. It only needs
// the security section of the configuration.
func printToken(w io.Writer, configPath, subject string, role auth.Role) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set")
	}

	token, err := auth.GenerateAccessToken(subject, role, cfg.Security.JWT.Secret, cfg.Security.JWT.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient and daemon may be nil when they are disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, daemon *pigpiod.Manager) error {
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

	if daemon != nil {
		if err := daemon.HealthCheck(ctx); err != nil {
			return fmt.Errorf("pigpiod: %w", err)
		}
	}

	// The pigpio session was verified by Initialize during startup.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - GPIO bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
