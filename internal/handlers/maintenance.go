package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/platform/observability"
	"github.com/watchfix/api/internal/services"
)

// MaintenanceHandlers serves scheduler-triggered jobs under /internal.
// Callers are authenticated by the group's OIDC middleware.
type MaintenanceHandlers struct {
	system services.SystemService
	keys   ExpiredKeyCleaner
	batch  int
	clock  func() time.Time
}

// ExpiredKeyCleaner removes expired idempotency records.
type ExpiredKeyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// MaintenanceOption configures MaintenanceHandlers.
type MaintenanceOption func(*MaintenanceHandlers)

// WithIdempotencyCleanup enables the idempotency key sweep, removing up to batch records per call.
func WithIdempotencyCleanup(keys ExpiredKeyCleaner, batch int) MaintenanceOption {
	return func(h *MaintenanceHandlers) {
		h.keys = keys
		h.batch = batch
	}
}

// WithMaintenanceClock overrides the clock used to decide expiry.
func WithMaintenanceClock(clock func() time.Time) MaintenanceOption {
	return func(h *MaintenanceHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewMaintenanceHandlers constructs MaintenanceHandlers.
func NewMaintenanceHandlers(system services.SystemService, opts ...MaintenanceOption) *MaintenanceHandlers {
	h := &MaintenanceHandlers{system: system, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /internal endpoints.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/otp-cleanup", h.cleanupOTPSessions)
	r.Post("/maintenance/idempotency-cleanup", h.cleanupIdempotencyKeys)
}

func (h *MaintenanceHandlers) cleanupOTPSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		serviceUnavailable(ctx, w, "system")
		return
	}
	removed, err := h.system.CleanupOTPSessions(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	caller := maintenanceCaller(ctx)
	observability.FromContext(ctx).Info("otp cleanup triggered", zap.Int64("removed", removed), zap.String("caller", caller))
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"removed": removed,
		"caller":  caller,
	})
}

func (h *MaintenanceHandlers) cleanupIdempotencyKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.keys == nil {
		serviceUnavailable(ctx, w, "idempotency")
		return
	}
	removed, err := h.keys.CleanupExpired(ctx, h.clock().UTC(), h.batch)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	caller := maintenanceCaller(ctx)
	observability.FromContext(ctx).Info("idempotency cleanup triggered", zap.Int("removed", removed), zap.String("caller", caller))
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"removed": removed,
		"caller":  caller,
	})
}

func maintenanceCaller(ctx context.Context) string {
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		return identity.Email
	}
	return ""
}
