package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/platform/httpx"
	"github.com/watchfix/api/internal/services"
)

type updateProfileRequest struct {
	Name           *string  `json:"name" validate:"omitempty,max=120"`
	Email          *string  `json:"email" validate:"omitempty,email,max=255"`
	DefaultAddress *string  `json:"default_address"`
	Latitude       *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude      *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type categoryView struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// CustomerHandlers serves the signed-in customer's profile and helpers.
type CustomerHandlers struct {
	authn     *auth.Authenticator
	customers services.CustomerService
}

// NewCustomerHandlers constructs CustomerHandlers.
func NewCustomerHandlers(authn *auth.Authenticator, customers services.CustomerService) *CustomerHandlers {
	return &CustomerHandlers{authn: authn, customers: customers}
}

// Routes registers the /customer endpoints.
func (h *CustomerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireRole(domain.RoleCustomer))
	}
	r.Get("/profile", h.getProfile)
	r.Patch("/profile", h.updateProfile)
	r.Get("/categories", h.listCategories)
	r.Get("/geocode", h.reverseGeocode)
}

func (h *CustomerHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.customers == nil {
		serviceUnavailable(ctx, w, "customer")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	customer, err := h.customers.Profile(ctx, principal)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"customer": buildCustomerView(customer)})
}

func (h *CustomerHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.customers == nil {
		serviceUnavailable(ctx, w, "customer")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload updateProfileRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	customer, err := h.customers.UpdateProfile(ctx, principal, services.UpdateProfileCommand{
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
	writeJSONResponse(w, http.StatusOK, map[string]any{"customer": buildCustomerView(customer)})
}

func (h *CustomerHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	if h.customers == nil {
		serviceUnavailable(r.Context(), w, "customer")
		return
	}
	options := h.customers.Categories()
	out := make([]categoryView, 0, len(options))
	for _, option := range options {
		out = append(out, categoryView{Value: string(option.Value), Label: option.Label})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"categories": out})
}

func (h *CustomerHandlers) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.customers == nil {
		serviceUnavailable(ctx, w, "customer")
		return
	}
	query := r.URL.Query()
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(query.Get("lat")), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(query.Get("lon")), 64)
	if latErr != nil || lonErr != nil {
		httpx.WriteError(ctx, w, httpx.NewError(services.CodeValidation, "lat and lon query parameters are required numbers", http.StatusBadRequest))
		return
	}
	result, err := h.customers.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"address":   result.Address,
		"latitude":  result.Latitude,
		"longitude": result.Longitude,
	})
}
