// Package httpx holds the JSON response helpers shared by storefront handlers and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/southernsense/storefront/internal/platform/requestctx"
)

// Error is the JSON error envelope: {"error", "message", "status", "request_id", "trace_id", ...details}.
// Message is shown to shoppers verbatim, so it never carries raw backend error text.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
	Details    map[string]any
}

var _ error = Error{}

// NewError constructs an Error; a zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, 80),
		Message: clean(message, 512),
		Status:  status,
	}
}

func (e Error) Error() string {
	return strconv.Itoa(e.Status) + " " + e.Code + ": " + e.Message
}

// WithDetails attaches extra top-level fields such as the failing form field or an order id.
// Reserved envelope keys cannot be overridden.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = maps.Clone(details)
	return e
}

// WithRetryAfter sets the Retry-After header, rounded up to whole seconds.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// WriteError writes err as JSON, stamping the request and trace ids from ctx so a shopper's
// screenshot can be matched to logs.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if requestID := clean(middleware.GetReqID(ctx), 80); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := clean(requestctx.TraceID(ctx), 64); traceID != "" {
		payload["trace_id"] = traceID
	}

	if err.RetryAfter > 0 {
		seconds := int(math.Ceil(err.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
