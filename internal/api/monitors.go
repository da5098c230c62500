package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-presence/internal/monitor"
	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

// createMonitorRequest is the request body for POST /monitors.
type createMonitorRequest struct {
	URI       string            `json:"uri"`
	Host      string            `json:"host"`
	Transport monitor.Transport `json:"transport"`
	URL       string            `json:"url"`
}

// setModeRequest is the request body for PUT /monitors/{id}/mode.
type setModeRequest struct {
	Mode string `json:"mode"`
}

// handleListMonitors returns every monitored target with its live state.
// An optional ?state= query parameter filters by presence state.
func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	statuses := s.monitors.List()

	if raw := r.URL.Query().Get("state"); raw != "" {
		want, err := presence.ParseState(raw)
		if err != nil {
			writeBadRequest(w, "invalid state filter: "+raw)
			return
		}
		filtered := make([]monitor.Status, 0, len(statuses))
		for _, st := range statuses {
			if st.Presence.State == want {
				filtered = append(filtered, st)
			}
		}
		statuses = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"monitors": statuses,
		"count":    len(statuses),
	})
}

// handleCreateMonitor starts monitoring a resource.
func (s *Server) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req createMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	target, err := s.monitors.Monitor(r.Context(), monitor.Target{
		URI:       req.URI,
		Host:      req.Host,
		Transport: req.Transport,
		URL:       req.URL,
	})
	switch {
	case errors.Is(err, monitor.ErrTargetExists):
		writeConflict(w, "resource already monitored as "+target.ID)
		return
	case errors.Is(err, monitor.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to create monitor", "error", err, "uri", req.URI, "host", req.Host)
		writeInternalError(w, "failed to create monitor")
		return
	}

	status, err := s.monitors.Get(target.ID)
	if err != nil {
		writeJSON(w, http.StatusCreated, monitor.Status{Target: target})
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

// handleGetMonitor returns a single monitor with its live state.
func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.monitors.Get(id)
	if err != nil {
		s.writeMonitorError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleDeleteMonitor stops monitoring a resource.
func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.monitors.Release(r.Context(), id); err != nil {
		s.writeMonitorError(w, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetMode switches a monitor between active polling and device presence.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode, err := presence.ParseMode(req.Mode)
	if err != nil {
		writeBadRequest(w, "invalid mode: "+req.Mode)
		return
	}

	if err := s.monitors.SetMode(id, mode); err != nil {
		s.writeMonitorError(w, err, id)
		return
	}

	status, err := s.monitors.Get(id)
	if err != nil {
		s.writeMonitorError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleMonitorHistory returns recent transitions for a monitor, newest first.
// History outlives the monitor, so a released id still answers.
func (s *Server) handleMonitorHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := s.monitors.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to read history", "error", err, "monitor_id", id)
		writeInternalError(w, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"monitor_id":  id,
		"transitions": history,
		"count":       len(history),
	})
}

// writeMonitorError maps monitor service errors to responses.
func (s *Server) writeMonitorError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, monitor.ErrTargetNotFound):
		writeNotFound(w, "monitor not found: "+id)
	case errors.Is(err, monitor.ErrClosed):
		writeUnavailable(w, "monitor service is shutting down")
	default:
		s.logger.Error("monitor operation failed", "error", err, "monitor_id", id)
		writeInternalError(w, "monitor operation failed")
	}
}
