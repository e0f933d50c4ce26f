package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/repositories"
)

const (
	systemEventCleanup = "maintenance.otp_cleanup"
	otpCleanupCheck    = "otp_cleanup"
)

// BuildInfo is the release metadata reported by /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	OTP              OTPService
	Clock            func() time.Time
	Build            BuildInfo
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type systemService struct {
	health repositories.HealthRepository
	otp    OTPService
	now    func() time.Time
	build  BuildInfo
	log    func(context.Context, string, map[string]any)

	mu          sync.Mutex
	lastCleanup *domain.SystemHealthCheck
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind readiness and maintenance endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health: deps.HealthRepository,
		otp:    deps.OTP,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
		log:    deps.Logger,
	}
	if svc.log == nil {
		svc.log = func(context.Context, string, map[string]any) {}
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport runs the dependency probes and stamps build metadata. The outcome of the most
// recent OTP sweep is attached as an informational check.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.now()

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = firstNonBlank(report.Version, s.build.Version)
	report.CommitSHA = firstNonBlank(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonBlank(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}

	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	s.mu.Lock()
	if s.lastCleanup != nil {
		checks[otpCleanupCheck] = *s.lastCleanup
	}
	s.mu.Unlock()
	report.Checks = checks

	if report.Status == "" {
		report.Status = worstStatus(report.Checks)
	}
	return report, nil
}

// CleanupOTPSessions deletes expired one-time code sessions.
func (s *systemService) CleanupOTPSessions(ctx context.Context) (int64, error) {
	if s.otp == nil {
		return 0, newError(ErrUnavailable, CodeUnavailable, "otp cleanup is not configured")
	}
	started := s.now()
	removed, err := s.otp.DeleteExpired(ctx)

	// A failed sweep is reported as degraded; expired codes are never accepted anyway.
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    fmt.Sprintf("removed %d expired sessions", removed),
		Latency:   s.now().Sub(started),
		CheckedAt: started,
	}
	if err != nil {
		check.Status = domain.HealthStatusDegraded
		check.Detail = "last sweep failed"
		check.Error = err.Error()
	}
	s.mu.Lock()
	s.lastCleanup = &check
	s.mu.Unlock()

	if err != nil {
		s.log(ctx, systemEventCleanup, map[string]any{"error": err.Error()})
		return 0, err
	}
	s.log(ctx, systemEventCleanup, map[string]any{"removed": removed})
	return removed, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// worstStatus folds the checks: any error wins, then any non-ok status degrades.
func worstStatus(checks map[string]domain.SystemHealthCheck) domain.HealthStatus {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
