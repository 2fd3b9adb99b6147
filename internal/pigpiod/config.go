package pigpiod

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// Default values applied by NewManager.
const (
	DefaultBinary              = "/usr/bin/pigpiod"
	DefaultRestartDelay        = 2 * time.Second
	DefaultMaxRestartDelay     = time.Minute
	DefaultStableThreshold     = 2 * time.Minute
	DefaultGracefulTimeout     = 10 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultReadyTimeout        = 10 * time.Second
)

// validSampleRates are the sampling periods pigpiod accepts, in microseconds.
var validSampleRates = []int{1, 2, 4, 5, 8, 10}

// Config holds the configuration for a supervised pigpiod.
type Config struct {
	// Binary is the path to the pigpiod executable. Default: /usr/bin/pigpiod.
	Binary string

	// Port is the daemon command port (-p). Default: 8888.
	Port int

	// LocalOnly restricts the daemon to localhost connections (-l).
	LocalOnly bool

	// SampleRate is the GPIO sampling period in microseconds (-s).
	// Zero keeps the daemon default of 5.
	SampleRate int

	// ExtraArgs are appended after the generated arguments.
	ExtraArgs []string

	// RestartOnFailure restarts the daemon when it exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the first backoff delay; it doubles on each
	// consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is the uptime after which the backoff resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckInterval is how often the watchdog probes the daemon.
	// Three consecutive failures kill the process.
	HealthCheckInterval time.Duration

	// ReadyTimeout bounds the wait for the first successful probe.
	ReadyTimeout time.Duration
}

// DefaultConfig returns a Config for a local daemon on the default port.
func DefaultConfig() Config {
	return Config{
		Binary:              DefaultBinary,
		Port:                pigpio.DefaultPort,
		LocalOnly:           true,
		RestartOnFailure:    true,
		RestartDelay:        DefaultRestartDelay,
		MaxRestartDelay:     DefaultMaxRestartDelay,
		StableThreshold:     DefaultStableThreshold,
		MaxRestartAttempts:  10,
		GracefulTimeout:     DefaultGracefulTimeout,
		HealthCheckInterval: DefaultHealthCheckInterval,
		ReadyTimeout:        DefaultReadyTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Port == 0 {
		c.Port = pigpio.DefaultPort
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = DefaultMaxRestartDelay
	}
	if c.MaxRestartDelay < c.RestartDelay {
		c.MaxRestartDelay = c.RestartDelay
	}
	if c.StableThreshold <= 0 {
		c.StableThreshold = DefaultStableThreshold
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be 1-65535, got %d", c.Port))
	}
	if c.SampleRate != 0 && !slices.Contains(validSampleRates, c.SampleRate) {
		errs = append(errs, fmt.Errorf("sample rate must be one of %v, got %d", validSampleRates, c.SampleRate))
	}
	if c.MaxRestartAttempts < 0 {
		errs = append(errs, errors.New("max restart attempts must not be negative"))
	}
	return errors.Join(errs...)
}

// BuildArgs returns the pigpiod command line. -g keeps the daemon in the
// foreground so it can be supervised.
func (c Config) BuildArgs() []string {
	args := []string{"-g", "-p", strconv.Itoa(c.Port)}
	if c.LocalOnly {
		args = append(args, "-l")
	}
	if c.SampleRate != 0 {
		args = append(args, "-s", strconv.Itoa(c.SampleRate))
	}
	return append(args, c.ExtraArgs...)
}

// Address returns the local command socket address.
func (c Config) Address() string {
	return net.JoinHostPort(pigpio.DefaultHost, strconv.Itoa(c.Port))
}

// ConnectionURL returns the URL a session should use for this daemon.
func (c Config) ConnectionURL() string {
	return "tcp://" + c.Address()
}
