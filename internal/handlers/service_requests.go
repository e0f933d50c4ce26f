package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/services"
)

type createItemRequest struct {
	Category    string  `json:"category" validate:"required,item_category"`
	Title       *string `json:"title" validate:"omitempty,max=255"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

type createServiceRequest struct {
	Items         []createItemRequest `json:"items" validate:"required,min=1,dive"`
	ShopID        *int64              `json:"shop_id" validate:"omitempty,gt=0"`
	MediaIDs      []int64             `json:"media_ids" validate:"omitempty,dive,gt=0"`
	AddressManual string              `json:"address_manual" validate:"required"`
	Description   *string             `json:"description"`
	GPSLat        *float64            `json:"gps_lat" validate:"omitempty,gte=-90,lte=90"`
	GPSLon        *float64            `json:"gps_lon" validate:"omitempty,gte=-180,lte=180"`
}

type acceptQuoteRequest struct {
	Accept bool `json:"accept"`
}

// ServiceRequestHandlers exposes the customer side of the request lifecycle.
type ServiceRequestHandlers struct {
	authn    *auth.Authenticator
	requests services.RequestService
}

// NewServiceRequestHandlers constructs ServiceRequestHandlers.
func NewServiceRequestHandlers(authn *auth.Authenticator, requests services.RequestService) *ServiceRequestHandlers {
	return &ServiceRequestHandlers{authn: authn, requests: requests}
}

// Routes registers the /service-requests endpoints.
func (h *ServiceRequestHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	customerOnly := passThrough
	anyRole := passThrough
	if h.authn != nil {
		customerOnly = h.authn.RequireRole(domain.RoleCustomer)
		anyRole = h.authn.RequireRole()
	}
	r.With(customerOnly).Post("/", h.createRequest)
	r.With(customerOnly).Get("/", h.listMine)
	r.With(anyRole).Get("/{requestID}", h.getRequest)
	r.With(customerOnly).Post("/{requestID}/accept-quote", h.acceptQuote)
}

func passThrough(next http.Handler) http.Handler { return next }

func (h *ServiceRequestHandlers) createRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		serviceUnavailable(ctx, w, "service request")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload createServiceRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	items := make([]services.CreateItemCommand, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, services.CreateItemCommand{
			Category:    domain.ItemCategory(item.Category),
			Title:       item.Title,
			Description: item.Description,
		})
	}
	created, err := h.requests.Create(ctx, principal, services.CreateRequestCommand{
		Items:         items,
		ShopID:        payload.ShopID,
		MediaIDs:      payload.MediaIDs,
		AddressManual: payload.AddressManual,
		Description:   payload.Description,
		GPSLat:        payload.GPSLat,
		GPSLon:        payload.GPSLon,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      created.ID,
		"status":  created.Status,
	})
}

func (h *ServiceRequestHandlers) listMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		serviceUnavailable(ctx, w, "service request")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	summaries, err := h.requests.ListMine(ctx, principal)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]requestSummaryView, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, requestSummaryView{
			requestView: buildRequestView(summary.ServiceRequest),
			ItemsCount:  summary.ItemsCount,
			MediaCount:  summary.MediaCount,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"requests": out})
}

func (h *ServiceRequestHandlers) getRequest(w http.ResponseWriter, r *http.Request) {
	writeRequestDetail(w, r, h.requests)
}

func (h *ServiceRequestHandlers) acceptQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		serviceUnavailable(ctx, w, "service request")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	var payload acceptQuoteRequest
	if !decodeBody(w, r, &payload, true) {
		return
	}
	updated, err := h.requests.AcceptQuote(ctx, principal, requestID, payload.Accept)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, updated)
}

// writeRequestDetail serves GET by id for every role; visibility is decided by the service.
func writeRequestDetail(w http.ResponseWriter, r *http.Request, requests services.RequestService) {
	ctx := r.Context()
	if requests == nil {
		serviceUnavailable(ctx, w, "service request")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	detail, err := requests.Get(ctx, principal, requestID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRequestDetailView(detail))
}

func writeTransition(w http.ResponseWriter, updated domain.ServiceRequest) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  string(updated.Status),
		"request": buildRequestView(updated),
	})
}
