package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/repositories"
)

const (
	otpEventIssued   = "otp.issued"
	otpEventLimited  = "otp.rate_limited"
	otpEventVerified = "otp.verified"
	otpEventCleanup  = "otp.cleanup"

	defaultOTPLength     = 6
	defaultOTPTTL        = 10 * time.Minute
	defaultOTPMaxPerHour = 5
	otpRateWindow        = time.Hour
)

// OTPServiceDeps wires the one-time code service.
type OTPServiceDeps struct {
	Repository repositories.OTPSessionRepository
	Length     int
	TTL        time.Duration
	MaxPerHour int
	// HashCost defaults to bcrypt.DefaultCost.
	HashCost      int
	CodeGenerator func(length int) (string, error)
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type otpService struct {
	repo       repositories.OTPSessionRepository
	length     int
	ttl        time.Duration
	maxPerHour int
	cost       int
	generate   func(int) (string, error)
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ OTPService = (*otpService)(nil)

// NewOTPService constructs an OTPService.
func NewOTPService(deps OTPServiceDeps) (OTPService, error) {
	if deps.Repository == nil {
		return nil, errors.New("otp service: repository is required")
	}
	svc := &otpService{
		repo:       deps.Repository,
		length:     deps.Length,
		ttl:        deps.TTL,
		maxPerHour: deps.MaxPerHour,
		cost:       deps.HashCost,
		generate:   deps.CodeGenerator,
		logger:     deps.Logger,
	}
	if svc.length <= 0 {
		svc.length = defaultOTPLength
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultOTPTTL
	}
	if svc.maxPerHour <= 0 {
		svc.maxPerHour = defaultOTPMaxPerHour
	}
	if svc.cost == 0 {
		svc.cost = bcrypt.DefaultCost
	}
	if svc.generate == nil {
		svc.generate = randomDigits
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc.clock = func() time.Time { return clock().UTC() }
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// CreateSession stores a hashed code and returns the plaintext for delivery.
func (s *otpService) CreateSession(ctx context.Context, phone string, purpose domain.OTPPurpose) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", validation(CodeValidation, "phone is required")
	}
	now := s.clock()

	count, err := s.repo.CountSince(ctx, phone, now.Add(-otpRateWindow))
	if err != nil {
		return "", mapRepositoryError(err, "otp session")
	}
	if count >= s.maxPerHour {
		s.logger(ctx, otpEventLimited, map[string]any{"phone": phone, "purpose": string(purpose), "count": count})
		return "", newError(ErrRateLimited, CodeRateLimited, "too many OTP requests, try again later")
	}

	code, err := s.generate(s.length)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return "", err
	}
	if _, err := s.repo.Insert(ctx, domain.OTPSession{
		Phone:     phone,
		CodeHash:  string(hash),
		Purpose:   purpose,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}); err != nil {
		return "", mapRepositoryError(err, "otp session")
	}
	s.logger(ctx, otpEventIssued, map[string]any{"phone": phone, "purpose": string(purpose)})
	return code, nil
}

// Verify checks the code against the newest active session and consumes it.
func (s *otpService) Verify(ctx context.Context, phone, code string, purpose domain.OTPPurpose) error {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return validation(CodeInvalidOTP, "invalid or expired OTP")
	}

	session, err := s.repo.FindLatestActive(ctx, phone, purpose, s.clock())
	if err != nil {
		if isNotFound(err) {
			return validation(CodeInvalidOTP, "invalid or expired OTP")
		}
		return mapRepositoryError(err, "otp session")
	}
	if bcrypt.CompareHashAndPassword([]byte(session.CodeHash), []byte(code)) != nil {
		return validation(CodeInvalidOTP, "invalid or expired OTP")
	}
	if err := s.repo.MarkVerified(ctx, session.ID); err != nil {
		return mapRepositoryError(err, "otp session")
	}
	s.logger(ctx, otpEventVerified, map[string]any{"phone": phone, "purpose": string(purpose)})
	return nil
}

// DeleteExpired removes expired sessions that no longer count towards the hourly limit.
func (s *otpService) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.clock()
	removed, err := s.repo.DeleteExpired(ctx, now, now.Add(-otpRateWindow))
	if err != nil {
		return 0, mapRepositoryError(err, "otp session")
	}
	s.logger(ctx, otpEventCleanup, map[string]any{"removed": removed})
	return removed, nil
}

func randomDigits(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
