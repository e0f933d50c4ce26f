package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/httpx"
	"github.com/watchfix/api/internal/services"
)

const readinessTimeout = 5 * time.Second

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  services.BuildInfo
	clock  func() time.Time
	system services.SystemService
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs health handlers. Without a system service readiness mirrors liveness.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// WithHealthBuildInfo sets the build metadata reported by the probes.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthSystemService sets the service that probes dependencies for readiness.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

type healthResponse struct {
	Status      domain.HealthStatus    `json:"status"`
	Version     string                 `json:"version,omitempty"`
	CommitSHA   string                 `json:"commitSha,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Uptime      string                 `json:"uptime"`
	Timestamp   time.Time              `json:"timestamp"`
	Checks      map[string]healthCheck `json:"checks,omitempty"`
}

type healthCheck struct {
	Status    domain.HealthStatus `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	Error     string              `json:"error,omitempty"`
	LatencyMS int64               `json:"latencyMs"`
}

// Healthz reports that the process is alive.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now,
	})
}

// Readyz reports whether dependencies are reachable.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("health_check_failed", "unable to evaluate readiness", http.StatusServiceUnavailable))
		return
	}

	checks := make(map[string]healthCheck, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = healthCheck{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
	}
	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, healthResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		Timestamp:   report.GeneratedAt,
		Checks:      checks,
	})
}
