package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ternarybob/exerceo/internal/models"
)

// maxRequestBody bounds JSON request bodies. Submit and feedback payloads
// are small; anything larger is a client error.
const maxRequestBody = 1 << 20

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	ErrorKind models.ErrorKind `json:"error_kind"`
	Message   string           `json:"message"`
}

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteMethodNotAllowed(w, r.Method)
		return false
	}
	return true
}

// WriteMethodNotAllowed writes the 405 error body used by route dispatch.
func WriteMethodNotAllowed(w http.ResponseWriter, method string) {
	WriteJSON(w, http.StatusMethodNotAllowed, ErrorBody{
		ErrorKind: models.ErrKindInvalidConfig,
		Message:   fmt.Sprintf("method %s not allowed", method),
	})
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes the standard error body for a taxonomy kind.
func WriteError(w http.ResponseWriter, kind models.ErrorKind, message string) error {
	return WriteJSON(w, StatusForKind(kind), ErrorBody{ErrorKind: kind, Message: message})
}

// WriteErrorFrom classifies err through the taxonomy and writes the
// resulting error body.
func WriteErrorFrom(w http.ResponseWriter, err error) error {
	kind := models.KindOf(err)
	if kind == "" {
		kind = models.ErrKindInternal
	}
	return WriteError(w, kind, err.Error())
}

// StatusForKind maps the error taxonomy onto HTTP statuses. Kinds that only
// appear on job records or event streams (cancel_timeout, timeout,
// slow_consumer) fall through to 500 — they are not request errors.
func StatusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindInvalidConfig, models.ErrKindUnknownTrainer:
		return http.StatusBadRequest
	case models.ErrKindCapacity:
		return http.StatusTooManyRequests
	case models.ErrKindTerminal:
		return http.StatusConflict
	case models.ErrKindUnauthenticated:
		return http.StatusUnauthorized
	case models.ErrKindAuthInsufficient:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a bounded JSON request body into dst. Unknown fields
// are rejected so typos surface as 400s instead of silently defaulting.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, err.Error())
	}
	return nil
}
