package pigpiod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// Status represents the current state of the supervised daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	readyPollInterval      = 100 * time.Millisecond
	probeTimeout           = 2 * time.Second
	maxConsecutiveFailures = 3
)

// ErrNotRunning is returned by HealthCheck when no daemon process is up.
var ErrNotRunning = errors.New("pigpiod: not running")

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one pigpiod process.
type Manager struct {
	config Config
	logger Logger

	// probe checks that the daemon answers; replaced in tests.
	probe func(ctx context.Context) (int, error)

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	consecutive   int
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	version       int
	done          chan struct{}
}

// NewManager validates cfg, fills in defaults and returns a stopped
// Manager.
func NewManager(cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pigpiod config: %w", err)
	}

	m := &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
	m.probe = m.queryVersion
	return m, nil
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Start launches pigpiod and blocks until it answers a version query or
// ReadyTimeout expires. On a readiness failure the process is stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return errors.New("pigpiod is already running")
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.consecutive = 0
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)

	if err := m.waitForReady(ctx); err != nil {
		if stopErr := m.Stop(); stopErr != nil {
			m.logger.Warn("error stopping pigpiod after failed readiness check", "error", stopErr)
		}
		return fmt.Errorf("pigpiod failed to become ready: %w", err)
	}

	m.logger.Info("pigpiod ready",
		"connection_url", m.config.ConnectionURL(),
		"daemon_version", m.Version(),
	)
	return nil
}

func (m *Manager) startProcess(ctx context.Context) error {
	args := m.config.BuildArgs()
	m.logger.Info("starting pigpiod", "binary", m.config.Binary, "args", args)

	cmd := exec.CommandContext(ctx, m.config.Binary, args...) //nolint:gosec // binary comes from operator config

	// Own process group so shutdown reaches any children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = m.config.GracefulTimeout

	cmd.Stdout = &outputLogger{logger: m.logger, stream: "stdout"}
	cmd.Stderr = &outputLogger{logger: m.logger, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting pigpiod: %w", err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("pigpiod process started", "pid", cmd.Process.Pid)
	return nil
}

// outputLogger logs each complete line written by the daemon.
type outputLogger struct {
	logger Logger
	stream string
	buf    []byte
}

func (o *outputLogger) Write(p []byte) (int, error) {
	o.buf = append(o.buf, p...)
	for {
		i := bytes.IndexByte(o.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(o.buf[:i]); len(line) > 0 {
			o.logger.Debug("pigpiod output", "stream", o.stream, "line", string(line))
		}
		o.buf = o.buf[i+1:]
	}
	return len(p), nil
}

// waitForReady polls the command port until a version query succeeds.
func (m *Manager) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(m.config.ReadyTimeout)
	m.logger.Debug("waiting for pigpiod", "address", m.config.Address())

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for pigpiod: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for pigpiod on %s after %v: %w",
				m.config.Address(), m.config.ReadyTimeout, lastErr)
		}

		if !m.IsRunning() {
			if err := m.LastError(); err != nil {
				return fmt.Errorf("pigpiod exited: %w", err)
			}
			return errors.New("pigpiod exited unexpectedly")
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		version, err := m.probe(probeCtx)
		cancel()
		if err == nil {
			m.mu.Lock()
			m.version = version
			m.mu.Unlock()
			return nil
		}
		lastErr = err

		time.Sleep(readyPollInterval)
	}
}

// queryVersion runs one PIGPV exchange on a fresh connection.
func (m *Manager) queryVersion(ctx context.Context) (int, error) {
	provider := pigpio.NewSocketProvider(pigpio.DialTCP(pigpio.DefaultHost, m.config.Port, probeTimeout), nil)
	defer provider.Close()

	sender := pigpio.NewSender(provider, pigpio.SenderConfig{IOTimeout: probeTimeout}, nil)
	rx, err := sender.SendCommand(ctx, pigpio.CmdVersion)
	if err != nil {
		return 0, err
	}
	return int(rx.P3), nil
}

// waitForExitOrHealthFailure returns when the process exits, or kills it
// after maxConsecutiveFailures failed probes.
func (m *Manager) waitForExitOrHealthFailure(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			// CommandContext delivers SIGTERM; collect the exit.
			return <-exitCh

		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			_, err := m.probe(probeCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("pigpiod health check recovered", "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("pigpiod health check failed", "error", err, "consecutive_failures", failures)
			if failures < maxConsecutiveFailures {
				continue
			}

			m.logger.Error("pigpiod not answering, killing process", "failures", failures)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) //nolint:errcheck // exit is collected below
			exitErr := <-exitCh
			if exitErr != nil {
				return fmt.Errorf("killed after %d failed health checks: %w", failures, exitErr)
			}
			return fmt.Errorf("killed after %d failed health checks", failures)
		}
	}
}

// monitor waits on the running process and restarts it with backoff.
func (m *Manager) monitor(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		err := m.waitForExitOrHealthFailure(ctx, cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested
		uptime := time.Since(m.startTime)
		if stopRequested || ctx.Err() != nil {
			m.status = StatusStopped
			m.mu.Unlock()
			m.logger.Info("pigpiod stopped")
			return
		}
		m.status = StatusFailed
		m.lastError = err
		if uptime >= m.config.StableThreshold {
			m.consecutive = 0
		}
		m.consecutive++
		attempt := m.consecutive
		m.mu.Unlock()

		m.logger.Warn("pigpiod exited unexpectedly", "error", err, "uptime", uptime)

		if !m.config.RestartOnFailure {
			m.logger.Info("pigpiod restart disabled")
			return
		}
		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("pigpiod max restart attempts reached", "attempts", attempt-1)
			return
		}

		delay := m.backoffDelay(attempt)
		m.logger.Info("restarting pigpiod", "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped)
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		stopRequested = m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			m.setStatus(StatusStopped)
			return
		}

		if err := m.startProcess(ctx); err != nil {
			m.logger.Error("failed to restart pigpiod", "error", err)
			m.mu.Lock()
			m.lastError = err
			m.mu.Unlock()
			return
		}
		m.mu.Lock()
		m.restartCount++
		m.mu.Unlock()
	}
}

// backoffDelay returns RestartDelay doubled for each consecutive failure,
// capped at MaxRestartDelay.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return delay
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop sends SIGTERM to the process group, waits GracefulTimeout, then
// sends SIGKILL. It is safe to call when nothing is running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning || m.status == StatusStarting
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping pigpiod", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to pigpiod", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("pigpiod graceful shutdown timeout, sending SIGKILL", "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing pigpiod: %w", err)
	}
	<-done
	return nil
}

// HealthCheck verifies the process is running and answering.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if !m.IsRunning() {
		return ErrNotRunning
	}
	_, err := m.probe(ctx)
	return err
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the daemon process is up.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// Version returns the daemon version seen by the readiness probe.
func (m *Manager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// LastError returns the error that ended the last run.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of restarts since Start.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats describes the supervised daemon.
type Stats struct {
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the daemon process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning {
		if m.cmd != nil && m.cmd.Process != nil {
			stats.PID = m.cmd.Process.Pid
		}
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
