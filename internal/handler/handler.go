// Package handler contains HTTP request handlers for the compute session API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/shiva/labdock/internal/service"
)

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes `{"error": <string>}`.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to HTTP responses. Validation errors
// carry a field→message object; everything else is a one-line string.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": ve.Fields})
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrUserInactive):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrBookingNotFound),
		errors.Is(err, service.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrBookingOverlap),
		errors.Is(err, service.ErrNotPending),
		errors.Is(err, service.ErrNotActive),
		errors.Is(err, service.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoAgents),
		errors.Is(err, service.ErrAgentUnavailable),
		errors.Is(err, service.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("[handler] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody parses a JSON request body into dst. An empty body is allowed
// when allowEmpty is set (endpoints with optional bodies).
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	if allowEmpty && errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
	return false
}
