package pigpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Config holds the settings for a Session.
type Config struct {
	// Dialer opens connections to the daemon. Both the command socket
	// and the notification listener are dialled through it.
	// Default: DialTCP(DefaultHost, DefaultPort, ConnectTimeout).
	Dialer Dialer

	// ConnectTimeout bounds the default TCP dialer. Default: 10 seconds.
	ConnectTimeout time.Duration

	// IOTimeout bounds each request/response exchange. Default: 5 seconds.
	IOTimeout time.Duration

	// MaxExtension caps response payloads. Default: 64 KiB.
	MaxExtension int

	// EventQueueSize and EventWorkers tune notification delivery.
	EventQueueSize int
	EventWorkers   int
}

// SessionStats combines the counters of a Session and its parts.
type SessionStats struct {
	Initialized bool
	Connected   bool
	Version     int
	Connects    uint64
	OpenHandles int
	Sender      SenderStats
	Monitor     MonitorStats
}

// Session is the client-side lifecycle for one daemon.
//
// It latches initialisation, re-establishes the connection lazily before
// each command after a failure, tracks open peripheral handles, and owns
// the notification monitor.
//
// Lock order: Session.mu, then the monitor, then the Sender. Nothing
// below the Session calls back into it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Session struct {
	provider StreamsProvider
	sender   *Sender
	monitor  *NotificationMonitor
	handles  *HandleRegistry
	logger   Logger

	mu          sync.Mutex
	initialized bool
	connected   bool
	version     int
}

// NewSession returns an uninitialised Session. Nothing is dialled until
// the first command.
func NewSession(cfg Config, logger Logger) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = DialTCP(DefaultHost, DefaultPort, cfg.ConnectTimeout)
	}
	return NewSessionWithProvider(NewSocketProvider(cfg.Dialer, logger), cfg, logger)
}

// NewSessionWithProvider returns a Session over an existing provider.
// The Session takes ownership of it and closes it on Terminate.
// cfg.Dialer is still used for the notification listener.
func NewSessionWithProvider(provider StreamsProvider, cfg Config, logger Logger) *Session {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DialTCP(DefaultHost, DefaultPort, cfg.ConnectTimeout)
	}

	sender := NewSender(provider, SenderConfig{
		IOTimeout:    cfg.IOTimeout,
		MaxExtension: cfg.MaxExtension,
	}, logger)

	return &Session{
		provider: provider,
		sender:   sender,
		monitor: NewNotificationMonitor(sender, cfg.Dialer, MonitorConfig{
			QueueSize: cfg.EventQueueSize,
			Workers:   cfg.EventWorkers,
			IOTimeout: cfg.IOTimeout,
		}, logger),
		handles: NewHandleRegistry(),
		logger:  logger,
	}
}

// Initialize connects to the daemon and returns its version. It is
// idempotent: later calls log a warning and return the cached version
// without touching the wire. If the version query fails the session
// stays uninitialised so the call can be retried.
func (s *Session) Initialize(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		s.logger.Warn("pigpio session already initialized", "version", s.version)
		return s.version, nil
	}

	s.initialized = true
	rx, err := s.exchangeLocked(ctx, Packet{Command: CmdVersion})
	if err != nil {
		s.initialized = false
		return 0, fmt.Errorf("initialize: %w", err)
	}
	version, err := checkResult(rx)
	if err != nil {
		s.initialized = false
		return 0, fmt.Errorf("initialize: %w", err)
	}

	s.version = version
	s.logger.Info("pigpio session initialized", "version", version)
	return version, nil
}

// Initialized reports whether Initialize has succeeded.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Connected reports whether the session believes it holds a live
// connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.provider.Connected()
}

// ValidateReady fails with ErrNotInitialized before Initialize, and
// otherwise makes sure a connection exists.
func (s *Session) ValidateReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateReadyLocked(ctx)
}

func (s *Session) validateReadyLocked(ctx context.Context) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.validateConnectionLocked(ctx)
}

// validateConnectionLocked reconnects if the last exchange dropped the
// connection. On failure connected stays false. Caller holds s.mu.
func (s *Session) validateConnectionLocked(ctx context.Context) error {
	if s.connected && s.provider.Connected() {
		return nil
	}
	s.connected = false

	if err := s.provider.ValidateReady(ctx); err != nil {
		return err
	}
	s.connected = true
	return nil
}

// exchangeLocked runs one exchange on an already-validated session
// state. Caller holds s.mu.
func (s *Session) exchangeLocked(ctx context.Context, tx Packet) (Packet, error) {
	if err := s.validateConnectionLocked(ctx); err != nil {
		return Packet{}, err
	}
	rx, err := s.sender.SendPacket(ctx, tx)
	if err != nil {
		s.connected = false
		return Packet{}, err
	}
	return rx, nil
}

// SendPacket validates readiness and performs one exchange. The session
// lock is held for the whole exchange, so a concurrent Terminate waits for
// it and nothing can redial once Terminate has closed the transport.
func (s *Session) SendPacket(ctx context.Context, tx Packet) (Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return Packet{}, ErrNotInitialized
	}
	return s.exchangeLocked(ctx, tx)
}

// SendCommand sends cmd with up to two parameters.
func (s *Session) SendCommand(ctx context.Context, cmd Command, params ...int32) (Packet, error) {
	tx := Packet{Command: cmd}
	switch len(params) {
	case 0:
	case 1:
		tx.P1 = params[0]
	case 2:
		tx.P1, tx.P2 = params[0], params[1]
	default:
		return Packet{}, fmt.Errorf("%w: %s takes at most 2 parameters, got %d",
			ErrInvalidParams, cmd, len(params))
	}
	return s.SendPacket(ctx, tx)
}

// Terminate releases everything the session holds. When initialised it
// closes every registered peripheral handle and stops the notification
// monitor; the transport is always closed. Calling it on a session that
// was never initialised only closes the transport.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		s.closeAllHandlesLocked(ctx)

		// The listener may already have died; its workers still need reaping.
		s.monitor.Shutdown(ctx)
	}

	var err error
	if cerr := s.provider.Close(); cerr != nil {
		err = fmt.Errorf("%w: close: %w", ErrTransport, cerr)
	}

	s.initialized = false
	s.connected = false
	s.logger.Info("pigpio session terminated")
	return err
}

// closeAllHandlesLocked closes every registered handle, best effort.
// Caller holds s.mu.
func (s *Session) closeAllHandlesLocked(ctx context.Context) {
	for _, h := range s.handles.Handles() {
		rx, err := s.exchangeLocked(ctx, Packet{Command: h.Kind.CloseCommand(), P1: int32(h.ID)}) //nolint:gosec // G115: daemon handle
		if err == nil {
			_, err = checkResult(rx)
		}
		if err != nil {
			s.logger.Warn("closing handle failed", "kind", h.Kind.String(), "handle", h.ID, "error", err)
		}
		s.handles.Remove(h.Kind, h.ID)
	}
}

// Notifications enables or disables state change notifications for pin.
func (s *Session) Notifications(ctx context.Context, pin int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateReadyLocked(ctx); err != nil {
		return err
	}
	if err := s.monitor.Enable(ctx, pin, enabled); err != nil {
		s.noteFailureLocked(err)
		return err
	}
	return nil
}

// DisableNotifications clears every pin from the notification mask.
func (s *Session) DisableNotifications(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateReadyLocked(ctx); err != nil {
		return err
	}
	if err := s.monitor.Disable(ctx); err != nil {
		s.noteFailureLocked(err)
		return err
	}
	return nil
}

// noteFailureLocked clears connected after a transport or framing error
// raised below the session. Caller holds s.mu.
func (s *Session) noteFailureLocked(err error) {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrMalformedFrame) {
		s.connected = false
	}
}

// Subscribe registers fn for state change events.
func (s *Session) Subscribe(fn func(StateChangeEvent)) (unsubscribe func()) {
	return s.monitor.Subscribe(fn)
}

// NotificationMask returns the pins currently monitored.
func (s *Session) NotificationMask() uint32 {
	return s.monitor.Mask()
}

// SetTracer installs t to observe every packet on the command channel.
func (s *Session) SetTracer(t Tracer) {
	s.sender.SetTracer(t)
}

// Handles returns the registry of open peripheral handles.
func (s *Session) Handles() *HandleRegistry {
	return s.handles
}

// Stats returns a snapshot of session, sender and monitor counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	initialized, connected, version := s.initialized, s.connected, s.version
	s.mu.Unlock()

	var connects uint64
	if sp, ok := s.provider.(interface{ Connects() uint64 }); ok {
		connects = sp.Connects()
	}

	return SessionStats{
		Initialized: initialized,
		Connected:   connected && s.provider.Connected(),
		Version:     version,
		Connects:    connects,
		OpenHandles: s.handles.Len(),
		Sender:      s.sender.Stats(),
		Monitor:     s.monitor.Stats(),
	}
}
