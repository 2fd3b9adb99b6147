package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-gpio/internal/audit"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// defaultHistoryLimit applies when no ?limit is given.
const defaultHistoryLimit = 50

// PinResponse is the body of GET/PUT /gpio/{pin}.
type PinResponse struct {
	Pin       int       `json:"pin"`
	Level     int       `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// SetPinRequest is the body of PUT /gpio/{pin}.
type SetPinRequest struct {
	Level *int `json:"level"`
}

// NotificationResponse is the body of the notification routes.
type NotificationResponse struct {
	Pin     int  `json:"pin"`
	Enabled bool `json:"enabled"`
}

// parsePin extracts and validates the {pin} URL parameter.
func parsePin(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "pin")
	pin, err := strconv.Atoi(raw)
	if err != nil || pin < 0 || pin > pigpio.MaxUserGPIO {
		writeBadRequest(w, "pin must be an integer between 0 and 31")
		return 0, false
	}
	return pin, true
}

// handleGetPin reads the current level of a pin from the daemon.
func (s *Server) handleGetPin(w http.ResponseWriter, r *http.Request) {
	pin, ok := parsePin(w, r)
	if !ok {
		return
	}

	level, err := s.gpio.Read(r.Context(), pin)
	if err != nil {
		writeGPIOError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PinResponse{Pin: pin, Level: int(level), Timestamp: time.Now().UTC()})
}

// handleSetPin drives a pin to the requested level.
func (s *Server) handleSetPin(w http.ResponseWriter, r *http.Request) {
	pin, ok := parsePin(w, r)
	if !ok {
		return
	}

	var req SetPinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Level == nil || (*req.Level != 0 && *req.Level != 1) {
		writeBadRequest(w, "level must be 0 or 1")
		return
	}

	err := s.gpio.Write(r.Context(), pin, pigpio.Level(*req.Level)) //nolint:gosec // G115: validated 0 or 1
	s.recordCommand(r, audit.ActionWrite, pin, map[string]any{"level": *req.Level}, err)
	if err != nil {
		writeGPIOError(w, err)
		return
	}

	claims := claimsFromContext(r.Context())
	s.logger.Info("gpio written via API", "pin", pin, "level", *req.Level, "subject", claims.Subject)

	writeJSON(w, http.StatusOK, PinResponse{Pin: pin, Level: *req.Level, Timestamp: time.Now().UTC()})
}

// handleEnableNotifications starts level change reports for a pin.
func (s *Server) handleEnableNotifications(w http.ResponseWriter, r *http.Request) {
	s.setNotifications(w, r, true)
}

// handleDisableNotifications stops level change reports for a pin.
func (s *Server) handleDisableNotifications(w http.ResponseWriter, r *http.Request) {
	s.setNotifications(w, r, false)
}

func (s *Server) setNotifications(w http.ResponseWriter, r *http.Request, enabled bool) {
	pin, ok := parsePin(w, r)
	if !ok {
		return
	}

	err := s.gpio.SetNotifications(r.Context(), pin, enabled)
	s.recordCommand(r, audit.ActionNotify, pin, map[string]any{"enabled": enabled}, err)
	if err != nil {
		writeGPIOError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NotificationResponse{Pin: pin, Enabled: enabled})
}

// handlePinHistory returns recorded level changes for a pin, newest first.
func (s *Server) handlePinHistory(w http.ResponseWriter, r *http.Request) {
	pin, ok := parsePin(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		writeNotFound(w, "history is not enabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.history.GetHistory(r.Context(), pin, limit)
	if err != nil {
		s.logger.Error("failed to load pin history", "pin", pin, "error", err)
		writeInternalError(w, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pin":    pin,
		"events": events,
		"count":  len(events),
	})
}
