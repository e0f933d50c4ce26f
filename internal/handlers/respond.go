package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/platform/httpx"
	"github.com/watchfix/api/internal/platform/observability"
	"github.com/watchfix/api/internal/platform/validation"
	"github.com/watchfix/api/internal/services"
)

const (
	defaultMaxBodySize = 64 * 1024
	// The only service-level limit is the hourly OTP quota.
	otpRetryAfter = time.Hour
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

var requestValidator = validation.New()

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads a JSON body into dst and runs struct validation. On failure the
// error response has already been written and false is returned.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, defaultMaxBodySize)
	switch {
	case errors.Is(err, errEmptyBody) && allowEmpty:
		body = []byte("{}")
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError(services.CodeValidation, "request body is required", http.StatusBadRequest))
		return false
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError(services.CodeValidation, "unable to read request body", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(services.CodeValidation, "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	if err := requestValidator.Struct(dst); err != nil {
		writeValidationError(ctx, w, err)
		return false
	}
	return true
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError(services.CodeValidation, "invalid request", http.StatusBadRequest))
		return
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field] = fe.Message
	}
	httpx.WriteError(ctx, w, httpx.NewError(services.CodeValidation, fieldErrs[0].Message, http.StatusBadRequest).
		WithFields(fields))
}

// writeServiceError maps service error kinds onto HTTP statuses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	code := ""
	message := ""
	var fields map[string]string
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		code = svcErr.Code
		message = svcErr.Message
		fields = svcErr.Fields
	}

	status := http.StatusInternalServerError
	var retryAfter time.Duration
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidStatus):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
		if code == services.CodeNoShop {
			status = http.StatusInternalServerError
		}
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrUpstream):
		status = http.StatusBadGateway
		if code == services.CodeStorage {
			status = http.StatusInternalServerError
		}
	case errors.Is(err, services.ErrRateLimited):
		status = http.StatusTooManyRequests
		retryAfter = otpRetryAfter
	case errors.Is(err, services.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrUnavailable):
		status = http.StatusServiceUnavailable
	default:
		code = "internal_error"
		message = "an unexpected error occurred"
	}
	if code == "" {
		code = "internal_error"
	}
	if message == "" {
		message = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		observability.FromContext(ctx).Sugar().Errorw("request failed", "code", code, "error", err)
	}

	httpx.WriteError(ctx, w, httpx.NewError(code, message, status).WithFields(fields).WithRetryAfter(retryAfter))
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Principal{}, false
	}
	return principal, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError(services.CodeValidation, param+" must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	return id, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(services.CodeUnavailable, name+" service unavailable", http.StatusServiceUnavailable))
}
