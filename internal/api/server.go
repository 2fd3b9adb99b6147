package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gpio/internal/bridge"
	"github.com/nerrad567/gray-logic-gpio/internal/audit"
	"github.com/nerrad567/gray-logic-gpio/internal/history"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// GPIOService drives pins on behalf of API callers. Satisfied by *bridge.Bridge.
type GPIOService interface {
	Read(ctx context.Context, pin int) (pigpio.Level, error)
	Write(ctx context.Context, pin int, level pigpio.Level) error
	SetNotifications(ctx context.Context, pin int, enabled bool) error
	Health() bridge.HealthMessage
	Stats() bridge.Stats
}

// SessionInfo exposes daemon session diagnostics. Satisfied by *pigpio.Session.
type SessionInfo interface {
	Stats() pigpio.SessionStats
	HardwareRevision(ctx context.Context) (int, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	GPIO     GPIOService
	Session  SessionInfo

	// History is optional; without it the history route returns 404.
	History history.Repository

	// Audit is optional; without it commands are not audited and the
	// audit route returns 404.
	Audit audit.Repository

	// Hub is shared with the bridge for broadcasting. Created if nil.
	Hub *Hub

	Version string
}

// Server is the HTTP API server for the GPIO bridge.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	gpio     GPIOService
	session  SessionInfo
	history  history.Repository
	audit    audit.Repository
	hub      *Hub
	tickets  *ticketStore
	version  string
	started  time.Time
	server   *http.Server
	cancel   context.CancelFunc
	mu       sync.Mutex
	listenOn net.Addr
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.GPIO == nil {
		return nil, errors.New("GPIO service is required")
	}
	if deps.Session == nil {
		return nil, errors.New("session is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, errors.New("JWT secret is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		gpio:    deps.GPIO,
		session: deps.Session,
		history: deps.History,
		audit:   deps.Audit,
		hub:     hub,
		tickets: newTicketStore(),
		version: deps.Version,
		started: time.Now(),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Bind synchronously so a port clash is reported to the caller.
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.listenOn = ln.Addr()
	s.mu.Unlock()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenOn
}

// Close gracefully shuts down the API server.
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

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
