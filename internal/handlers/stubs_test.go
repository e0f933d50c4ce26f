package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/services"
)

// stubVerifier accepts tokens of the form "<role>-<id>".
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, token string) (domain.Principal, error) {
	role, rawID, ok := strings.Cut(token, "-")
	if !ok {
		return domain.Principal{}, errors.New("malformed token")
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.Principal{Role: domain.Role(role), ID: id}, nil
}

func newTestAuthenticator(checks ...auth.PrincipalCheck) *auth.Authenticator {
	return auth.NewAuthenticator(stubVerifier{}, checks...)
}

func mountRoutes(prefix string, routes RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Route(prefix, func(group chi.Router) { routes(group) })
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type stubRequestService struct {
	createFn         func(context.Context, services.Principal, services.CreateRequestCommand) (services.ServiceRequest, error)
	listMineFn       func(context.Context, services.Principal) ([]domain.RequestSummary, error)
	getFn            func(context.Context, services.Principal, int64) (services.RequestDetail, error)
	acceptFn         func(context.Context, services.Principal, int64, bool) (services.ServiceRequest, error)
	listAdminFn      func(context.Context, services.Principal, services.AdminRequestFilter) (domain.Page[domain.AdminRequestSummary], error)
	sendQuoteFn      func(context.Context, services.Principal, int64, services.QuoteCommand) (services.ServiceRequest, error)
	confirmFn        func(context.Context, services.Principal, int64, *time.Time) (services.ServiceRequest, error)
	assignFn         func(context.Context, services.Principal, int64, int64) (services.ServiceRequest, error)
	statusFn         func(ctx context.Context, actor services.Principal, requestID int64, to domain.RequestStatus) (services.ServiceRequest, error)
	assignmentsFn    func(context.Context, services.Principal) ([]domain.Assignment, error)
	pickupFn         func(context.Context, services.Principal, int64, services.DeliveryPhotoCommand) (services.ServiceRequest, error)
	deliveredFn      func(context.Context, services.Principal, int64, services.DeliveryPhotoCommand) (services.ServiceRequest, error)
	outForDeliveryFn func(context.Context, services.Principal, int64) (services.ServiceRequest, error)
}

var _ services.RequestService = (*stubRequestService)(nil)

func (s *stubRequestService) Create(ctx context.Context, actor services.Principal, cmd services.CreateRequestCommand) (services.ServiceRequest, error) {
	if s.createFn == nil {
		return services.ServiceRequest{}, errors.New("not implemented")
	}
	return s.createFn(ctx, actor, cmd)
}

func (s *stubRequestService) ListMine(ctx context.Context, actor services.Principal) ([]domain.RequestSummary, error) {
	if s.listMineFn == nil {
		return nil, nil
	}
	return s.listMineFn(ctx, actor)
}

func (s *stubRequestService) Get(ctx context.Context, actor services.Principal, requestID int64) (services.RequestDetail, error) {
	if s.getFn == nil {
		return services.RequestDetail{}, errors.New("not implemented")
	}
	return s.getFn(ctx, actor, requestID)
}

func (s *stubRequestService) AcceptQuote(ctx context.Context, actor services.Principal, requestID int64, accept bool) (services.ServiceRequest, error) {
	if s.acceptFn == nil {
		return services.ServiceRequest{}, errors.New("not implemented")
	}
	return s.acceptFn(ctx, actor, requestID, accept)
}

func (s *stubRequestService) ListForAdmin(ctx context.Context, actor services.Principal, filter services.AdminRequestFilter) (domain.Page[domain.AdminRequestSummary], error) {
	if s.listAdminFn == nil {
		return domain.Page[domain.AdminRequestSummary]{}, nil
	}
	return s.listAdminFn(ctx, actor, filter)
}

func (s *stubRequestService) SendQuote(ctx context.Context, actor services.Principal, requestID int64, cmd services.QuoteCommand) (services.ServiceRequest, error) {
	if s.sendQuoteFn == nil {
		return services.ServiceRequest{}, errors.New("not implemented")
	}
	return s.sendQuoteFn(ctx, actor, requestID, cmd)
}

func (s *stubRequestService) Confirm(ctx context.Context, actor services.Principal, requestID int64, at *time.Time) (services.ServiceRequest, error) {
	if s.confirmFn == nil {
		return services.ServiceRequest{}, errors.New("not implemented")
	}
	return s.confirmFn(ctx, actor, requestID, at)
}

func (s *stubRequestService) AssignDelivery(ctx context.Context, actor services.Principal, requestID, personID int64) (services.ServiceRequest, error) {
	if s.assignFn == nil {
		return services.ServiceRequest{}, errors.New("not implemented")
	}
	return s.assignFn(ctx, actor, requestID, personID)
}

func (s *stubRequestService) status(ctx context.Context, actor services.Principal, requestID int64, to domain.RequestStatus) (services.ServiceRequest, error) {
	if s.statusFn == nil {
		return services.ServiceRequest{ID: requestID, Status: to}, nil
	}
	return s.statusFn(ctx, actor, requestID, to)
}

func (s *stubRequestService) MarkReceived(ctx context.Context, actor services.Principal, requestID int64) (services.ServiceRequest, error) {
	return s.status(ctx, actor, requestID, domain.StatusReceivedShop)
}

func (s *stubRequestService) MarkInRepair(ctx context.Context, actor services.Principal, requestID int64) (services.ServiceRequest, error) {
	return s.status(ctx, actor, requestID, domain.StatusInRepair)
}

func (s *stubRequestService) MarkReadyForPayment(ctx context.Context, actor services.Principal, requestID int64) (services.ServiceRequest, error) {
	return s.status(ctx, actor, requestID, domain.StatusReadyForPayment)
}

func (s *stubRequestService) MarkPaid(ctx context.Context, actor services.Principal, requestID int64) (services.ServiceRequest, error) {
	return s.status(ctx, actor, requestID, domain.StatusPaymentReceived)
}

func (s *stubRequestService) ListAssignments(ctx context.Context, actor services.Principal) ([]domain.Assignment, error) {
	if s.assignmentsFn == nil {
		return nil, nil
	}
	return s.assignmentsFn(ctx, actor)
}

func (s *stubRequestService) MarkPickup(ctx context.Context, actor services.Principal, requestID int64, cmd services.DeliveryPhotoCommand) (services.ServiceRequest, error) {
	if s.pickupFn == nil {
		return services.ServiceRequest{ID: requestID, Status: domain.StatusPickedUp}, nil
	}
	return s.pickupFn(ctx, actor, requestID, cmd)
}

func (s *stubRequestService) MarkOutForDelivery(ctx context.Context, actor services.Principal, requestID int64) (services.ServiceRequest, error) {
	if s.outForDeliveryFn == nil {
		return services.ServiceRequest{ID: requestID, Status: domain.StatusOutForDelivery}, nil
	}
	return s.outForDeliveryFn(ctx, actor, requestID)
}

func (s *stubRequestService) MarkDelivered(ctx context.Context, actor services.Principal, requestID int64, cmd services.DeliveryPhotoCommand) (services.ServiceRequest, error) {
	if s.deliveredFn == nil {
		return services.ServiceRequest{ID: requestID, Status: domain.StatusDelivered}, nil
	}
	return s.deliveredFn(ctx, actor, requestID, cmd)
}

type stubAuthService struct {
	requestCustomerFn func(context.Context, string) (services.OTPDispatch, error)
	verifyCustomerFn  func(context.Context, string, string) (services.CustomerLogin, error)
	registerFn        func(context.Context, services.RegisterCustomerCommand) (services.CustomerLogin, error)
	requestDeliveryFn func(context.Context, string) (services.OTPDispatch, error)
	verifyDeliveryFn  func(context.Context, string, string) (services.StaffLogin[domain.DeliveryPerson], error)
	requestAdminFn    func(context.Context, string) (services.OTPDispatch, error)
	verifyAdminFn     func(context.Context, string, string) (services.StaffLogin[domain.Admin], error)
}

var _ services.AuthService = (*stubAuthService)(nil)

func defaultDispatch(phone string) services.OTPDispatch {
	return services.OTPDispatch{Phone: phone, ExpiresIn: 10 * time.Minute}
}

func (s *stubAuthService) RequestCustomerOTP(ctx context.Context, phone string) (services.OTPDispatch, error) {
	if s.requestCustomerFn == nil {
		return defaultDispatch(phone), nil
	}
	return s.requestCustomerFn(ctx, phone)
}

func (s *stubAuthService) VerifyCustomerOTP(ctx context.Context, phone, code string) (services.CustomerLogin, error) {
	return s.verifyCustomerFn(ctx, phone, code)
}

func (s *stubAuthService) RegisterCustomer(ctx context.Context, cmd services.RegisterCustomerCommand) (services.CustomerLogin, error) {
	return s.registerFn(ctx, cmd)
}

func (s *stubAuthService) RequestDeliveryOTP(ctx context.Context, phone string) (services.OTPDispatch, error) {
	if s.requestDeliveryFn == nil {
		return defaultDispatch(phone), nil
	}
	return s.requestDeliveryFn(ctx, phone)
}

func (s *stubAuthService) VerifyDeliveryOTP(ctx context.Context, phone, code string) (services.StaffLogin[domain.DeliveryPerson], error) {
	return s.verifyDeliveryFn(ctx, phone, code)
}

func (s *stubAuthService) RequestAdminOTP(ctx context.Context, phone string) (services.OTPDispatch, error) {
	if s.requestAdminFn == nil {
		return defaultDispatch(phone), nil
	}
	return s.requestAdminFn(ctx, phone)
}

func (s *stubAuthService) VerifyAdminOTP(ctx context.Context, phone, code string) (services.StaffLogin[domain.Admin], error) {
	return s.verifyAdminFn(ctx, phone, code)
}

func (s *stubAuthService) CheckPrincipal(context.Context, services.Principal) error {
	return nil
}

type stubMediaService struct {
	presignFn  func(context.Context, services.Principal, services.PresignCommand) (services.PresignResult, error)
	registerFn func(context.Context, services.Principal, services.RegisterMediaCommand) (services.Media, error)
	listFn     func(context.Context, services.Principal, int64) ([]services.MediaView, error)
	deleteFn   func(context.Context, services.Principal, int64) error
}

var _ services.MediaService = (*stubMediaService)(nil)

func (s *stubMediaService) Presign(ctx context.Context, actor services.Principal, cmd services.PresignCommand) (services.PresignResult, error) {
	return s.presignFn(ctx, actor, cmd)
}

func (s *stubMediaService) Register(ctx context.Context, actor services.Principal, cmd services.RegisterMediaCommand) (services.Media, error) {
	return s.registerFn(ctx, actor, cmd)
}

func (s *stubMediaService) ListByRequest(ctx context.Context, actor services.Principal, requestID int64) ([]services.MediaView, error) {
	return s.listFn(ctx, actor, requestID)
}

func (s *stubMediaService) Delete(ctx context.Context, actor services.Principal, mediaID int64) error {
	return s.deleteFn(ctx, actor, mediaID)
}

type stubSystemService struct {
	report  services.SystemHealthReport
	err     error
	removed int64
	calls   int
}

var _ services.SystemService = (*stubSystemService)(nil)

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func (s *stubSystemService) CleanupOTPSessions(context.Context) (int64, error) {
	s.calls++
	return s.removed, s.err
}

func serviceErr(kind error, code string) error {
	return &services.Error{Kind: kind, Code: code, Message: code}
}
