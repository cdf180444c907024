// Package api provides HTTP handlers for the gene-chat API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/identity"
	"github.com/ashureev/gene-chat/internal/provider"
	"github.com/ashureev/gene-chat/internal/session"
)

// defaultMaxRequestBodySize is used when a handler is built without a limit.
const defaultMaxRequestBodySize = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errBodyTooLarge reports a request rejected by http.MaxBytesReader.
var errBodyTooLarge = errors.New("request body too large")

// decodeJSON reads one JSON value from the request body, capped at limit bytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if limit <= 0 {
		limit = defaultMaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeDecodeError maps decodeJSON failures to responses.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	Error(w, http.StatusBadRequest, "invalid request body")
}

// statusFor maps domain errors to HTTP status codes and client-safe messages.
func statusFor(err error) (int, string) {
	var invalid *session.InvalidOptionError
	var pe *provider.Error
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Error()
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrTurnInProgress):
		return http.StatusConflict, err.Error()
	case errors.As(err, &pe):
		return http.StatusBadGateway, pe.Message
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// entryFor returns the caller's conversation, creating it on first use.
func entryFor(reg *chat.Registry, r *http.Request) *chat.Entry {
	id := identity.FromContext(r.Context())
	return reg.Get(id.UserID, id.SessionID)
}
