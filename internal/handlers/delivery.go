package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/services"
)

type deliveryPhotoRequest struct {
	PhotoKey *string `json:"photo_s3_key"`
	Notes    *string `json:"notes" validate:"omitempty,max=2000"`
}

// DeliveryHandlers exposes the pickup and drop-off workflow to delivery personnel.
type DeliveryHandlers struct {
	authn    *auth.Authenticator
	requests services.RequestService
}

// NewDeliveryHandlers constructs DeliveryHandlers.
func NewDeliveryHandlers(authn *auth.Authenticator, requests services.RequestService) *DeliveryHandlers {
	return &DeliveryHandlers{authn: authn, requests: requests}
}

// Routes registers the /delivery endpoints.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireRole(domain.RoleDelivery))
	}
	r.Get("/assignments", h.listAssignments)
	r.Get("/requests/{requestID}", h.getRequest)
	r.Post("/{requestID}/mark-pickup", h.markPickup)
	r.Post("/{requestID}/mark-out-for-delivery", h.markOutForDelivery)
	r.Post("/{requestID}/mark-delivered", h.markDelivered)
}

func (h *DeliveryHandlers) listAssignments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		serviceUnavailable(ctx, w, "service request")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	assignments, err := h.requests.ListAssignments(ctx, principal)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]assignmentView, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, assignmentView{
			requestView: buildRequestView(a.ServiceRequest),
			partiesView: buildPartiesView(a.Parties),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"assignments": out})
}

func (h *DeliveryHandlers) getRequest(w http.ResponseWriter, r *http.Request) {
	writeRequestDetail(w, r, h.requests)
}

func (h *DeliveryHandlers) markPickup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, requestID, payload, ok := h.photoPreamble(w, r)
	if !ok {
		return
	}
	updated, err := h.requests.MarkPickup(ctx, principal, requestID, services.DeliveryPhotoCommand{PhotoKey: payload.PhotoKey, Notes: payload.Notes})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, updated)
}

func (h *DeliveryHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, requestID, payload, ok := h.photoPreamble(w, r)
	if !ok {
		return
	}
	updated, err := h.requests.MarkDelivered(ctx, principal, requestID, services.DeliveryPhotoCommand{PhotoKey: payload.PhotoKey, Notes: payload.Notes})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, updated)
}

func (h *DeliveryHandlers) markOutForDelivery(w http.ResponseWriter, r *http.Request) {
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
	updated, err := h.requests.MarkOutForDelivery(ctx, principal, requestID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, updated)
}

func (h *DeliveryHandlers) photoPreamble(w http.ResponseWriter, r *http.Request) (domain.Principal, int64, deliveryPhotoRequest, bool) {
	var payload deliveryPhotoRequest
	if h.requests == nil {
		serviceUnavailable(r.Context(), w, "service request")
		return domain.Principal{}, 0, payload, false
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return domain.Principal{}, 0, payload, false
	}
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return domain.Principal{}, 0, payload, false
	}
	if !decodeBody(w, r, &payload, true) {
		return domain.Principal{}, 0, payload, false
	}
	return principal, requestID, payload, true
}
