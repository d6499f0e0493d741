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

	"github.com/lumen-studio/booking/internal/platform/requestctx"
)

const (
	maxJSONBodyBytes  = 256 << 10
	maxCodeLength     = 80
	maxMessageLength  = 512
	maxRequestIDBytes = 80
	maxTraceIDBytes   = 64
)

// Error is an API failure: a stable machine code, a human message and the
// HTTP status. Details are rendered under "details".
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLength),
		Message: singleLine(message, maxMessageLength),
		Status:  status,
	}
}

// WithDetails returns a copy of e carrying details. Later calls replace
// earlier details.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = maps.Clone(details)
	return e
}

type errorEnvelope struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"requestId,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteError renders err with the request and trace ids found in ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	WriteJSON(w, err.Status, errorEnvelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: singleLine(middleware.GetReqID(ctx), maxRequestIDBytes),
		TraceID:   singleLine(requestctx.TraceID(ctx), maxTraceIDBytes),
		Details:   err.Details,
	})
}

// WriteJSON encodes payload with the given status. A nil payload writes
// headers only.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// DecodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
// An empty body leaves dst untouched.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		return fmt.Errorf("invalid json body: %w", err)
	}
}

// singleLine flattens line breaks and truncates to limit bytes.
func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
