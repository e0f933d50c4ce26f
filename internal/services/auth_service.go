package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/textutil"
	"github.com/watchfix/api/internal/repositories"
)

const (
	authEventOTPSent     = "auth.otp_sent"
	authEventOTPFailed   = "auth.otp_send_failed"
	authEventLogin       = "auth.login"
	authEventRegistered  = "auth.customer_registered"
	authEventLoginDenied = "auth.login_denied"

	maxNameLength    = 255
	maxAddressLength = 1000
)

// AuthServiceDeps wires the login flows.
type AuthServiceDeps struct {
	OTP       OTPService
	SMS       SMSSender
	Tokens    TokenIssuer
	Customers repositories.CustomerRepository
	Admins    repositories.AdminRepository
	Delivery  repositories.DeliveryPersonRepository
	OTPTTL    time.Duration
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type authService struct {
	otp       OTPService
	sms       SMSSender
	tokens    TokenIssuer
	customers repositories.CustomerRepository
	admins    repositories.AdminRepository
	delivery  repositories.DeliveryPersonRepository
	otpTTL    time.Duration
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

var _ AuthService = (*authService)(nil)

// NewAuthService constructs an AuthService.
func NewAuthService(deps AuthServiceDeps) (AuthService, error) {
	switch {
	case deps.OTP == nil:
		return nil, errors.New("auth service: otp service is required")
	case deps.SMS == nil:
		return nil, errors.New("auth service: sms sender is required")
	case deps.Tokens == nil:
		return nil, errors.New("auth service: token issuer is required")
	case deps.Customers == nil || deps.Admins == nil || deps.Delivery == nil:
		return nil, errors.New("auth service: account repositories are required")
	}
	ttl := deps.OTPTTL
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &authService{
		otp:       deps.OTP,
		sms:       deps.SMS,
		tokens:    deps.Tokens,
		customers: deps.Customers,
		admins:    deps.Admins,
		delivery:  deps.Delivery,
		otpTTL:    ttl,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

func (s *authService) RequestCustomerOTP(ctx context.Context, phone string) (OTPDispatch, error) {
	return s.sendOTP(ctx, strings.TrimSpace(phone), domain.OTPCustomerLogin)
}

func (s *authService) VerifyCustomerOTP(ctx context.Context, phone, code string) (CustomerLogin, error) {
	phone = strings.TrimSpace(phone)
	if err := s.otp.Verify(ctx, phone, code, domain.OTPCustomerLogin); err != nil {
		return CustomerLogin{}, err
	}
	customer, err := s.customers.FindByPhone(ctx, phone)
	if err != nil {
		if isNotFound(err) {
			return CustomerLogin{IsNewUser: true}, nil
		}
		return CustomerLogin{}, mapRepositoryError(err, "customer")
	}
	token, err := s.issue(domain.Principal{Role: domain.RoleCustomer, ID: customer.ID, Phone: customer.Phone})
	if err != nil {
		return CustomerLogin{}, err
	}
	s.logger(ctx, authEventLogin, map[string]any{"role": string(domain.RoleCustomer), "id": customer.ID})
	return CustomerLogin{Customer: &customer, Token: &token}, nil
}

func (s *authService) RegisterCustomer(ctx context.Context, cmd RegisterCustomerCommand) (CustomerLogin, error) {
	phone := strings.TrimSpace(cmd.Phone)
	if phone == "" {
		return CustomerLogin{}, validation(CodeValidation, "phone is required")
	}
	if err := checkCoordinates(cmd.Latitude, cmd.Longitude); err != nil {
		return CustomerLogin{}, err
	}

	if _, err := s.customers.FindByPhone(ctx, phone); err == nil {
		return CustomerLogin{}, newError(ErrConflict, CodePhoneExists, "customer already registered")
	} else if !isNotFound(err) {
		return CustomerLogin{}, mapRepositoryError(err, "customer")
	}

	now := s.clock()
	customer, err := s.customers.Insert(ctx, domain.Customer{
		Phone:          phone,
		Name:           textutil.CleanOptional(cmd.Name, maxNameLength),
		Email:          trimOptional(cmd.Email),
		DefaultAddress: textutil.CleanOptional(cmd.DefaultAddress, maxAddressLength),
		Latitude:       cmd.Latitude,
		Longitude:      cmd.Longitude,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		if isConflict(err) {
			return CustomerLogin{}, wrapError(ErrConflict, CodePhoneExists, "customer already registered", err)
		}
		return CustomerLogin{}, mapRepositoryError(err, "customer")
	}

	token, err := s.issue(domain.Principal{Role: domain.RoleCustomer, ID: customer.ID, Phone: customer.Phone})
	if err != nil {
		return CustomerLogin{}, err
	}
	s.logger(ctx, authEventRegistered, map[string]any{"customerId": customer.ID})
	return CustomerLogin{Customer: &customer, Token: &token}, nil
}

func (s *authService) RequestDeliveryOTP(ctx context.Context, phone string) (OTPDispatch, error) {
	phone = strings.TrimSpace(phone)
	if _, err := s.activeDeliveryPerson(ctx, phone); err != nil {
		return OTPDispatch{}, err
	}
	return s.sendOTP(ctx, phone, domain.OTPDeliveryLogin)
}

func (s *authService) VerifyDeliveryOTP(ctx context.Context, phone, code string) (StaffLogin[domain.DeliveryPerson], error) {
	phone = strings.TrimSpace(phone)
	if err := s.otp.Verify(ctx, phone, code, domain.OTPDeliveryLogin); err != nil {
		return StaffLogin[domain.DeliveryPerson]{}, err
	}
	person, err := s.activeDeliveryPerson(ctx, phone)
	if err != nil {
		return StaffLogin[domain.DeliveryPerson]{}, err
	}
	token, err := s.issue(domain.Principal{Role: domain.RoleDelivery, ID: person.ID, Phone: person.Phone})
	if err != nil {
		return StaffLogin[domain.DeliveryPerson]{}, err
	}
	s.logger(ctx, authEventLogin, map[string]any{"role": string(domain.RoleDelivery), "id": person.ID})
	return StaffLogin[domain.DeliveryPerson]{Account: person, Token: token}, nil
}

func (s *authService) RequestAdminOTP(ctx context.Context, phone string) (OTPDispatch, error) {
	phone = strings.TrimSpace(phone)
	if _, err := s.knownAdmin(ctx, phone); err != nil {
		return OTPDispatch{}, err
	}
	return s.sendOTP(ctx, phone, domain.OTPAdminInvite)
}

func (s *authService) VerifyAdminOTP(ctx context.Context, phone, code string) (StaffLogin[domain.Admin], error) {
	phone = strings.TrimSpace(phone)
	if err := s.otp.Verify(ctx, phone, code, domain.OTPAdminInvite); err != nil {
		return StaffLogin[domain.Admin]{}, err
	}
	admin, err := s.knownAdmin(ctx, phone)
	if err != nil {
		return StaffLogin[domain.Admin]{}, err
	}
	token, err := s.issue(domain.Principal{Role: domain.RoleAdmin, ID: admin.ID, Phone: admin.Phone})
	if err != nil {
		return StaffLogin[domain.Admin]{}, err
	}
	s.logger(ctx, authEventLogin, map[string]any{"role": string(domain.RoleAdmin), "id": admin.ID})
	return StaffLogin[domain.Admin]{Account: admin, Token: token}, nil
}

// CheckPrincipal refuses delivery personnel deactivated after their token was issued and
// customers whose account no longer exists.
func (s *authService) CheckPrincipal(ctx context.Context, principal Principal) error {
	switch principal.Role {
	case domain.RoleDelivery:
		person, err := s.delivery.FindByID(ctx, principal.ID)
		if err != nil {
			if isNotFound(err) {
				return newError(ErrForbidden, CodeForbidden, "delivery account not found")
			}
			return mapRepositoryError(err, "delivery person")
		}
		if !person.Active {
			return newError(ErrForbidden, CodeForbidden, "delivery account is inactive")
		}
	case domain.RoleCustomer:
		if _, err := s.customers.FindByID(ctx, principal.ID); err != nil {
			if isNotFound(err) {
				return newError(ErrUnauthenticated, "unauthenticated", "customer account not found")
			}
			return mapRepositoryError(err, "customer")
		}
	}
	return nil
}

func (s *authService) sendOTP(ctx context.Context, phone string, purpose domain.OTPPurpose) (OTPDispatch, error) {
	code, err := s.otp.CreateSession(ctx, phone, purpose)
	if err != nil {
		return OTPDispatch{}, err
	}
	minutes := int(math.Ceil(s.otpTTL.Minutes()))
	message := fmt.Sprintf("Your OTP for Watch Store is: %s. Valid for %d minutes.", code, minutes)
	if err := s.sms.Send(ctx, phone, message); err != nil {
		s.logger(ctx, authEventOTPFailed, map[string]any{"phone": phone, "purpose": string(purpose), "error": err.Error()})
		return OTPDispatch{}, wrapError(ErrUpstream, CodeUpstream, "failed to send OTP", err)
	}
	s.logger(ctx, authEventOTPSent, map[string]any{"phone": phone, "purpose": string(purpose)})
	return OTPDispatch{Phone: phone, ExpiresIn: s.otpTTL}, nil
}

func (s *authService) activeDeliveryPerson(ctx context.Context, phone string) (domain.DeliveryPerson, error) {
	person, err := s.delivery.FindByPhone(ctx, phone)
	if err != nil {
		if isNotFound(err) {
			s.logger(ctx, authEventLoginDenied, map[string]any{"role": string(domain.RoleDelivery), "phone": phone})
			return domain.DeliveryPerson{}, newError(ErrForbidden, CodeForbidden, "delivery personnel not found or inactive")
		}
		return domain.DeliveryPerson{}, mapRepositoryError(err, "delivery person")
	}
	if !person.Active {
		s.logger(ctx, authEventLoginDenied, map[string]any{"role": string(domain.RoleDelivery), "phone": phone})
		return domain.DeliveryPerson{}, newError(ErrForbidden, CodeForbidden, "delivery personnel not found or inactive")
	}
	return person, nil
}

func (s *authService) knownAdmin(ctx context.Context, phone string) (domain.Admin, error) {
	admin, err := s.admins.FindByPhone(ctx, phone)
	if err != nil {
		if isNotFound(err) {
			s.logger(ctx, authEventLoginDenied, map[string]any{"role": string(domain.RoleAdmin), "phone": phone})
			return domain.Admin{}, newError(ErrForbidden, CodeForbidden, "admin not found")
		}
		return domain.Admin{}, mapRepositoryError(err, "admin")
	}
	return admin, nil
}

func (s *authService) issue(principal domain.Principal) (IssuedToken, error) {
	token, expires, err := s.tokens.Issue(principal)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("issue token: %w", err)
	}
	return IssuedToken{Token: token, ExpiresAt: expires}, nil
}

func checkCoordinates(lat, lon *float64) error {
	if lat != nil && (*lat < -90 || *lat > 90) {
		return validation(CodeValidation, "latitude must be between -90 and 90")
	}
	if lon != nil && (*lon < -180 || *lon > 180) {
		return validation(CodeValidation, "longitude must be between -180 and 180")
	}
	return nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
