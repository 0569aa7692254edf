package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/smartlock-core/internal/liveness"
)

// errorBody is the envelope for every error response.
type errorBody struct {
	Error Error `json:"error"`
}

// Error is a structured API error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeForbidden     = "forbidden"
	ErrCodeConflict      = "conflict"
	ErrCodeDeviceOffline = "device_offline"
	ErrCodeValidation    = "validation_error"
	ErrCodeUnavailable   = "service_unavailable"
	ErrCodeInternal      = "internal_error"
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
	writeJSON(w, status, errorBody{Error: Error{Code: code, Message: message}})
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

// commandErrors maps guard rejections to responses. Order matters only
// for errors that wrap more than one sentinel.
var commandErrors = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{liveness.ErrDeviceOffline, http.StatusConflict, ErrCodeDeviceOffline, "lock is offline"},
	{liveness.ErrPublish, http.StatusServiceUnavailable, ErrCodeUnavailable, "command broker unavailable"},
	{liveness.ErrInvalidCommand, http.StatusBadRequest, ErrCodeValidation, "unsupported command"},
}

// writeCommandError writes the response for a known guard rejection and
// reports whether err was one.
func writeCommandError(w http.ResponseWriter, err error) bool {
	for _, ce := range commandErrors {
		if errors.Is(err, ce.err) {
			writeError(w, ce.status, ce.code, ce.message)
			return true
		}
	}
	return false
}
