package httpx

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/watchfix/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxFieldLength   = 256
)

// Error is the JSON error envelope every endpoint returns on failure.
type Error struct {
	Code    string
	Message string
	Status  int
	// Fields maps request field names to a reason, for validation failures.
	Fields map[string]string
	// RetryAfter is sent as a Retry-After header when positive.
	RetryAfter time.Duration
}

type envelope struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Status    int               `json:"status"`
	RequestID string            `json:"request_id,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLength),
		Message: clip(message, maxMessageLength),
		Status:  status,
	}
}

// WithFields attaches per-field reasons. Empty names are dropped.
func (e Error) WithFields(fields map[string]string) Error {
	if len(fields) == 0 {
		return e
	}
	out := make(map[string]string, len(fields))
	for name, reason := range fields {
		name = clip(name, maxCodeLength)
		if name == "" {
			continue
		}
		out[name] = clip(reason, maxFieldLength)
	}
	if len(out) > 0 {
		e.Fields = out
	}
	return e
}

// WithRetryAfter asks the client to back off for d.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// WriteError writes err as JSON, stamping the chi request id and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := envelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: clip(middleware.GetReqID(ctx), maxCodeLength),
		TraceID:   clip(requestctx.TraceID(ctx), 64),
		Fields:    err.Fields,
	}
	if body.Error == "" {
		body.Error = "internal_error"
	}

	if err.RetryAfter > 0 {
		seconds := int(math.Ceil(err.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// clip keeps values single-line and bounded before they reach a response.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
