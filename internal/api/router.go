package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-gpio/internal/auth"
	"github.com/nerrad567/gray-logic-gpio/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Dashboard UI (embedded via go:embed); the page authenticates itself.
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.PanelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermSystemRead)).Get("/stats", s.handleStats)
			r.With(s.requirePermission(auth.PermSystemRead)).Get("/version", s.handleVersion)
			r.With(s.requirePermission(auth.PermGPIORead)).Post("/auth/ws-ticket", s.handleWSTicket)
			r.With(s.requirePermission(auth.PermSystemAdmin)).Get("/audit", s.handleListAudit)

			r.Route("/gpio/{pin}", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermGPIORead)).Get("/", s.handleGetPin)
				r.With(s.requirePermission(auth.PermGPIOWrite)).Put("/", s.handleSetPin)
				r.With(s.requirePermission(auth.PermGPIORead)).Get("/history", s.handlePinHistory)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermGPIONotify))
					r.Put("/notifications", s.handleEnableNotifications)
					r.Delete("/notifications", s.handleDisableNotifications)
				})
			})
		})
	})

	return r
}

// wsPath returns the configured WebSocket route relative to /api/v1.
func (s *Server) wsPath() string {
	p := s.wsCfg.Path
	if p == "" {
		return "/ws"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
