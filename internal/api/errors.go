package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// DaemonCode is the negative status reported by the daemon, if any.
	DaemonCode int `json:"daemon_code,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorised"
	ErrCodeForbidden         = "forbidden"
	ErrCodeInternal          = "internal_error"
	ErrCodeDaemonError       = "daemon_error"
	ErrCodeDaemonUnavailable = "daemon_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeGPIOError maps a session error to an HTTP response.
//
//   - invalid pin → 400
//   - daemon rejected the command → 502 with the daemon status
//   - transport or framing failure → 503
func writeGPIOError(w http.ResponseWriter, err error) {
	var daemonErr *pigpio.DaemonError
	switch {
	case errors.Is(err, pigpio.ErrInvalidPin):
		writeBadRequest(w, err.Error())
	case errors.As(err, &daemonErr):
		writeJSON(w, http.StatusBadGateway, Error{
			Status:     http.StatusBadGateway,
			Code:       ErrCodeDaemonError,
			Message:    err.Error(),
			DaemonCode: int(daemonErr.Code),
		})
	case errors.Is(err, pigpio.ErrTransport), errors.Is(err, pigpio.ErrMalformedFrame):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDaemonUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
