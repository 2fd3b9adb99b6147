package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-gpio/internal/audit"
)

// recordCommand writes an audit entry for a command issued over the API.
// Failures are logged; the command response is not affected.
func (s *Server) recordCommand(r *http.Request, action string, pin int, details map[string]any, cmdErr error) {
	if s.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:    action,
		Pin:       pin,
		Source:    audit.SourceAPI,
		CommandID: requestIDFromContext(r.Context()),
		Status:    audit.StatusOK,
		Details:   details,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		entry.Subject = claims.Subject
	}
	if cmdErr != nil {
		entry.Status = audit.StatusError
		entry.Details["error"] = cmdErr.Error()
	}

	if err := s.audit.Record(r.Context(), entry); err != nil {
		s.logger.Error("failed to record command audit", "pin", pin, "action", action, "error", err)
	}
}

// handleListAudit returns audited commands, newest first.
//
// Query parameters: pin, action, source, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Source: q.Get("source"),
	}

	if raw := q.Get("pin"); raw != "" {
		pin, err := strconv.Atoi(raw)
		if err != nil || pin < 0 || pin > 31 {
			writeBadRequest(w, "pin must be an integer between 0 and 31")
			return
		}
		filter.Pin = &pin
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit log", "error", err)
		writeInternalError(w, "failed to load audit log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
