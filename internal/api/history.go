package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-rio/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleDeviceHistory returns recorded variable values for a device.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, err := parseHistoryLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	since, err := parseSinceParam(q.Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}
	variable := strings.ToLower(strings.TrimSpace(q.Get("variable")))
	if len(variable) > maxQueryParamLen {
		writeBadRequest(w, "variable exceeds maximum length")
		return
	}

	if s.history == nil {
		writeUnavailable(w, "history database unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), history.Filter{
		DeviceID: dev.ID,
		Variable: variable,
		Since:    since,
		Limit:    limit,
	})
	if err != nil {
		s.logger.Error("failed to query history", "device_id", dev.ID, "error", err)
		writeInternalError(w, "failed to query history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"history":   entries,
		"count":     len(entries),
	})
}

// handleListConnections returns recent controller connection events.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if s.history == nil {
		writeUnavailable(w, "history database unavailable")
		return
	}

	events, err := s.history.ListConnections(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list connection events", "error", err)
		writeInternalError(w, "failed to list connection events")
		return
	}
	if events == nil {
		events = []history.ConnectionEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connections": events,
		"count":       len(events),
	})
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339/RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
