// Package httpx holds the JSON envelope helpers shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/casacustomz/api/internal/platform/requestctx"
)

// DefaultBodyLimit caps JSON request bodies.
const DefaultBodyLimit int64 = 1 << 20

// Error is the JSON error envelope: {error, message, status, request_id, trace_id, ...details}.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, 80), Message: clip(message, 512), Status: status}
}

// WithDetails merges extra top-level keys into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(merged, e.Details)
	maps.Copy(merged, details)
	e.Details = merged
	return e
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Common envelopes.
var (
	ErrInternal     = NewError("internal_server_error", "internal server error", http.StatusInternalServerError)
	ErrUnauthorized = NewError("unauthorized", "authentication required", http.StatusUnauthorized)
	ErrForbidden    = NewError("forbidden", "insufficient permissions", http.StatusForbidden)
)

// WriteError renders the envelope with request and trace correlation ids.
func WriteError(ctx context.Context, w http.ResponseWriter, apiErr Error) {
	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	payload := map[string]any{
		"error":   apiErr.Code,
		"message": apiErr.Message,
		"status":  status,
	}
	if id := clip(middleware.GetReqID(ctx), 80); id != "" {
		payload["request_id"] = id
	}
	if id := clip(requestctx.TraceID(ctx), 64); id != "" {
		payload["trace_id"] = id
	}
	for k, v := range apiErr.Details {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes body as the response.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// DecodeJSON reads a single JSON object from the request body, rejecting unknown trailing data.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, DefaultBodyLimit))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func clip(value string, limit int) string {
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
