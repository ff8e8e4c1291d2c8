package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	riobridge "github.com/nerrad567/gray-logic-rio/internal/bridges/rio"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeRejected    = "command_rejected"
	ErrCodeUnavailable = "service_unavailable"
	ErrCodeTimeout     = "timeout"
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

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUnavailable writes a 503 error response.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeControllerError maps a client or bridge error onto an HTTP response.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, riobridge.ErrNotConfigured):
		writeNotFound(w, err.Error())
	case errors.Is(err, riobridge.ErrInvalidCommand),
		errors.Is(err, riobridge.ErrInvalidParameters),
		errors.Is(err, rioclient.ErrInvalidCommand),
		errors.Is(err, rioclient.ErrInvalidDeviceID):
		writeBadRequest(w, err.Error())
	case errors.Is(err, rioclient.ErrCommandRejected):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeRejected, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "controller did not reply in time")
	case errors.Is(err, rioclient.ErrNotConnected),
		errors.Is(err, rioclient.ErrConnectionLost),
		errors.Is(err, rioclient.ErrClosed),
		errors.Is(err, rioclient.ErrCancelled),
		errors.Is(err, riobridge.ErrStopped):
		writeUnavailable(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
