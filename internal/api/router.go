package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/variables/{key}", s.handleGetVariable)
				r.Put("/variables/{key}", s.handleSetVariable)
				r.Post("/events", s.handleSendEvent)
				r.Post("/commands", s.handleCommand)
				r.Get("/history", s.handleDeviceHistory)
			})
		})

		r.Get("/connections", s.handleListConnections)
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.controller.IsConnected() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"version":   s.version,
		"connected": s.controller.IsConnected(),
	})
}

// handleStatus returns bridge and controller statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.bridge.Status()
	stats := s.controller.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"bridge":     st,
		"ws_clients": s.hub.ClientCount(),
		"statistics": map[string]any{
			"commands_sent":    stats.CommandsTx,
			"replies_received": stats.RepliesRx,
			"events_received":  stats.EventsRx,
			"command_errors":   stats.CommandErrors,
			"unparsed_lines":   stats.UnparsedLines,
			"errors":           stats.ErrorsTotal,
			"reconnects":       stats.ReconnectsTotal,
			"last_activity":    stats.LastActivity,
		},
	})
}
