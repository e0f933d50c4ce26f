package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchfix/api/internal/platform/observability"
	"github.com/watchfix/api/internal/services"
)

type otpRequest struct {
	Phone string `json:"phone" validate:"required,phone_in"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone" validate:"required,phone_in"`
	Code  string `json:"code" validate:"required,numeric,min=4,max=10"`
}

type registerCustomerRequest struct {
	Phone          string   `json:"phone" validate:"required,phone_in"`
	Name           *string  `json:"name" validate:"omitempty,max=120"`
	Email          *string  `json:"email" validate:"omitempty,email,max=255"`
	DefaultAddress *string  `json:"default_address"`
	Latitude       *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Longitude      *float64 `json:"lon" validate:"omitempty,gte=-180,lte=180"`
}

type otpSentResponse struct {
	Message   string `json:"message"`
	Phone     string `json:"phone"`
	ExpiresIn int    `json:"expires_in"`
}

type customerLoginResponse struct {
	IsNewUser bool          `json:"is_new_user"`
	Phone     string        `json:"phone,omitempty"`
	Token     string        `json:"token,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Customer  *customerView `json:"customer,omitempty"`
}

// AuthHandlers exposes the OTP login endpoints of every role.
type AuthHandlers struct {
	auth    services.AuthService
	limiter rateLimiter
}

// AuthHandlerOption customises AuthHandlers.
type AuthHandlerOption func(*AuthHandlers)

// WithOTPRateLimit throttles OTP request endpoints per client address.
func WithOTPRateLimit(perMinute, burst int, clock func() time.Time) AuthHandlerOption {
	return func(h *AuthHandlers) {
		h.limiter = newKeyedRateLimiter(perMinute, burst, clock)
	}
}

// NewAuthHandlers constructs AuthHandlers.
func NewAuthHandlers(auth services.AuthService, opts ...AuthHandlerOption) *AuthHandlers {
	h := &AuthHandlers{auth: auth}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	throttle := rateLimitByClientIP(h.limiter)

	r.With(throttle).Post("/customer/request-otp", h.requestCustomerOTP)
	r.Post("/customer/verify-otp", h.verifyCustomerOTP)
	r.Post("/customer/register", h.registerCustomer)

	r.With(throttle).Post("/delivery/request-otp", h.requestDeliveryOTP)
	r.Post("/delivery/verify-otp", h.verifyDeliveryOTP)

	r.With(throttle).Post("/admin/request-otp", h.requestAdminOTP)
	r.Post("/admin/verify-otp", h.verifyAdminOTP)
}

func (h *AuthHandlers) requestCustomerOTP(w http.ResponseWriter, r *http.Request) {
	h.requestOTP(w, r, func(ctx context.Context, phone string) (services.OTPDispatch, error) {
		return h.auth.RequestCustomerOTP(ctx, phone)
	})
}

func (h *AuthHandlers) requestDeliveryOTP(w http.ResponseWriter, r *http.Request) {
	h.requestOTP(w, r, func(ctx context.Context, phone string) (services.OTPDispatch, error) {
		return h.auth.RequestDeliveryOTP(ctx, phone)
	})
}

func (h *AuthHandlers) requestAdminOTP(w http.ResponseWriter, r *http.Request) {
	h.requestOTP(w, r, func(ctx context.Context, phone string) (services.OTPDispatch, error) {
		return h.auth.RequestAdminOTP(ctx, phone)
	})
}

func (h *AuthHandlers) requestOTP(w http.ResponseWriter, r *http.Request, send func(ctx context.Context, phone string) (services.OTPDispatch, error)) {
	ctx := r.Context()
	if h.auth == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	var payload otpRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	dispatch, err := send(ctx, payload.Phone)
	if err != nil {
		observability.FromContext(ctx).Sugar().Infow("otp request rejected", "phone", observability.MaskPhone(payload.Phone), "error", err)
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, otpSentResponse{
		Message:   "OTP sent successfully",
		Phone:     dispatch.Phone,
		ExpiresIn: int(dispatch.ExpiresIn / time.Second),
	})
}

func (h *AuthHandlers) verifyCustomerOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	var payload verifyOTPRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	login, err := h.auth.VerifyCustomerOTP(ctx, payload.Phone, payload.Code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := buildCustomerLoginResponse(login)
	if login.IsNewUser {
		resp.Phone = payload.Phone
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AuthHandlers) registerCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	var payload registerCustomerRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	login, err := h.auth.RegisterCustomer(ctx, services.RegisterCustomerCommand{
		Phone:          payload.Phone,
		Name:           payload.Name,
		Email:          payload.Email,
		DefaultAddress: payload.DefaultAddress,
		Latitude:       payload.Latitude,
		Longitude:      payload.Longitude,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCustomerLoginResponse(login))
}

func (h *AuthHandlers) verifyDeliveryOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	var payload verifyOTPRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	login, err := h.auth.VerifyDeliveryOTP(ctx, payload.Phone, payload.Code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"token":           login.Token.Token,
		"expires_at":      login.Token.ExpiresAt,
		"delivery_person": buildDeliveryPersonView(login.Account),
	})
}

func (h *AuthHandlers) verifyAdminOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	var payload verifyOTPRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	login, err := h.auth.VerifyAdminOTP(ctx, payload.Phone, payload.Code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"token":      login.Token.Token,
		"expires_at": login.Token.ExpiresAt,
		"admin":      adminView{ID: login.Account.ID, Phone: login.Account.Phone, Name: login.Account.Name},
	})
}

func buildCustomerLoginResponse(login services.CustomerLogin) customerLoginResponse {
	resp := customerLoginResponse{IsNewUser: login.IsNewUser}
	if login.Token != nil {
		resp.Token = login.Token.Token
		expires := login.Token.ExpiresAt
		resp.ExpiresAt = &expires
	}
	if login.Customer != nil {
		view := buildCustomerView(*login.Customer)
		resp.Customer = &view
	}
	return resp
}
