package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	riobridge "github.com/nerrad567/gray-logic-rio/internal/bridges/rio"
)

const (
	// controllerTimeout bounds a single controller round trip from a handler.
	controllerTimeout = 10 * time.Second

	// maxQueryParamLen bounds path and query values.
	maxQueryParamLen = 100
)

// SetVariableRequest is the body of PUT /devices/{id}/variables/{key}.
type SetVariableRequest struct {
	Value string `json:"value"`
}

// EventRequest is the body of POST /devices/{id}/events.
type EventRequest struct {
	Event string   `json:"event"`
	Args  []string `json:"args,omitempty"`
}

// DeviceCommand is the body of POST /devices/{id}/commands.
type DeviceCommand struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleListDevices returns every configured device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a configured device with its cached state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        dev.ID,
		"kind":      dev.Kind,
		"name":      dev.Name,
		"state":     s.controller.Snapshot(dev.ID),
		"connected": s.controller.IsConnected(),
	})
}

// handleGetVariable reads one variable, from the cache when present.
func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	key, ok := variableKey(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controllerTimeout)
	defer cancel()

	value, err := s.controller.GetVariable(ctx, dev.ID, key)
	if err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"key":       key,
		"value":     value,
	})
}

// handleSetVariable writes one variable on the controller.
func (s *Server) handleSetVariable(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	key, ok := variableKey(w, r)
	if !ok {
		return
	}

	var req SetVariableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.ContainsAny(req.Value, "\r\n") {
		writeBadRequest(w, "value must not contain line breaks")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controllerTimeout)
	defer cancel()

	if _, err := s.controller.SetVariable(ctx, dev.ID, key, req.Value); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"key":       key,
		"value":     req.Value,
	})
}

// handleSendEvent sends a raw RIO event to a device.
func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" || strings.ContainsAny(req.Event, " \r\n") {
		writeBadRequest(w, "event must be a single word")
		return
	}
	for _, a := range req.Args {
		if strings.ContainsAny(a, "\r\n") {
			writeBadRequest(w, "event arguments must not contain line breaks")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), controllerTimeout)
	defer cancel()

	reply, err := s.controller.SendEvent(ctx, dev.ID, req.Event, req.Args...)
	if err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"event":     req.Event,
		"reply":     reply,
	})
}

// handleCommand runs a bridge command, publishing MQTT acks for it.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var body DeviceCommand
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	cmd := riobridge.CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		DeviceID:   dev.ID,
		Command:    body.Command,
		Parameters: body.Parameters,
		Source:     "api",
	}

	reply, err := s.bridge.Execute(r.Context(), cmd)
	if err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": cmd.ID,
		"device_id":  dev.ID,
		"command":    cmd.Command,
		"reply":      reply,
	})
}

// lookupDevice resolves the {id} path parameter to a configured device,
// writing the error response when it cannot.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (riobridge.DeviceInfo, bool) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return riobridge.DeviceInfo{}, false
	}
	dev, found := s.bridge.Device(id)
	if !found {
		writeNotFound(w, "device not found")
		return riobridge.DeviceInfo{}, false
	}
	return dev, true
}

// variableKey returns the {key} path parameter.
func variableKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, ok := pathParam(w, r, "key")
	if !ok {
		return "", false
	}
	if strings.ContainsAny(key, " .=\"\r\n") {
		writeBadRequest(w, "invalid variable name")
		return "", false
	}
	return key, true
}

// pathParam returns an unescaped, non-empty chi URL parameter.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	value, err := url.PathUnescape(raw)
	if err != nil || value == "" || len(value) > maxQueryParamLen {
		writeBadRequest(w, "invalid "+name)
		return "", false
	}
	return value, true
}
