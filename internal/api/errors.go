package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-relay/internal/mailbox"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeDeadline       = "deadline_exceeded"
	ErrCodeConnectionLost = "connection_lost"
	ErrCodeExternal       = "external_error"
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

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeRelayError maps relay and mailbox failures to HTTP responses:
// caller timeouts become 504, a dropped instance connection 502, explicit
// instance failures 502 with the recorded detail, duplicate correlation ids
// and finalized subscriptions 409, and missing entries 404.
func writeRelayError(w http.ResponseWriter, err error) {
	var extErr *relay.ExternalError

	switch {
	case errors.Is(err, relay.ErrDeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeDeadline, err.Error())
	case errors.Is(err, relay.ErrConnectionLost):
		writeError(w, http.StatusBadGateway, ErrCodeConnectionLost, "instance connection lost; retry after reconnect")
	case errors.Is(err, relay.ErrUnknownInstance):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.As(err, &extErr):
		writeError(w, http.StatusBadGateway, ErrCodeExternal, extErr.Detail)
	case errors.Is(err, mailbox.ErrDuplicateCorrelation):
		writeError(w, http.StatusConflict, ErrCodeConflict, "correlation id already in use")
	case errors.Is(err, mailbox.ErrNotCollecting):
		writeError(w, http.StatusConflict, ErrCodeConflict, "subscription is not collecting events")
	case errors.Is(err, mailbox.ErrNotFound):
		writeNotFound(w, "mailbox entry not found")
	default:
		writeInternalError(w, err.Error())
	}
}
