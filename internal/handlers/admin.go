package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/platform/httpx"
	"github.com/watchfix/api/internal/platform/pagination"
	"github.com/watchfix/api/internal/services"
)

type sendQuoteRequest struct {
	QuoteMin  *int64  `json:"quote_min" validate:"required,gte=0"`
	QuoteMax  *int64  `json:"quote_max" validate:"required,gte=0"`
	QuoteNote *string `json:"quote_note"`
	VoiceKey  *string `json:"voice_note_s3_key"`
}

type confirmRequest struct {
	ScheduledPickupAt *time.Time `json:"scheduled_pickup_at"`
}

type assignDeliveryRequest struct {
	DeliveryPersonID int64 `json:"delivery_person_id" validate:"required,gt=0"`
}

type createDeliveryPersonRequest struct {
	Phone string `json:"phone" validate:"required,phone_in"`
	Name  string `json:"name" validate:"required,max=120"`
}

type deliveryPersonStatusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type createShopRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Address string `json:"address" validate:"required"`
	Phone   string `json:"phone" validate:"required,max=20"`
}

type updateSettingsRequest struct {
	NotificationsEnabled *bool  `json:"notifications_enabled"`
	MaxMediaBytes        *int64 `json:"max_media_bytes" validate:"omitempty,gt=0"`
	MaxVideoDuration     *int   `json:"max_video_duration" validate:"omitempty,gt=0"`
	MaxVoiceDuration     *int   `json:"max_voice_duration" validate:"omitempty,gt=0"`
}

// AdminHandlers exposes the shop operator endpoints.
type AdminHandlers struct {
	authn    *auth.Authenticator
	requests services.RequestService
	admin    services.AdminService
	settings services.SettingsService
}

// NewAdminHandlers constructs AdminHandlers.
func NewAdminHandlers(authn *auth.Authenticator, requests services.RequestService, admin services.AdminService, settings services.SettingsService) *AdminHandlers {
	return &AdminHandlers{authn: authn, requests: requests, admin: admin, settings: settings}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireRole(domain.RoleAdmin))
	}

	r.Route("/service-requests", func(rr chi.Router) {
		rr.Get("/", h.listRequests)
		rr.Get("/{requestID}", h.getRequest)
		rr.Post("/{requestID}/send-quote", h.sendQuote)
		rr.Post("/{requestID}/confirm", h.confirm)
		rr.Post("/{requestID}/assign-delivery", h.assignDelivery)
		rr.Post("/{requestID}/mark-received", h.simpleTransition(func(ctx context.Context, p domain.Principal, id int64) (domain.ServiceRequest, error) {
			return h.requests.MarkReceived(ctx, p, id)
		}))
		rr.Post("/{requestID}/mark-in-repair", h.simpleTransition(func(ctx context.Context, p domain.Principal, id int64) (domain.ServiceRequest, error) {
			return h.requests.MarkInRepair(ctx, p, id)
		}))
		rr.Post("/{requestID}/mark-ready-for-payment", h.simpleTransition(func(ctx context.Context, p domain.Principal, id int64) (domain.ServiceRequest, error) {
			return h.requests.MarkReadyForPayment(ctx, p, id)
		}))
		rr.Post("/{requestID}/mark-paid", h.simpleTransition(func(ctx context.Context, p domain.Principal, id int64) (domain.ServiceRequest, error) {
			return h.requests.MarkPaid(ctx, p, id)
		}))
	})

	r.Get("/delivery-personnel", h.listDeliveryPersonnel)
	r.Post("/delivery-personnel", h.createDeliveryPerson)
	r.Patch("/delivery-personnel/{personID}/status", h.setDeliveryPersonStatus)

	r.Get("/shops", h.listShops)
	r.Post("/shops", h.createShop)

	r.Get("/settings", h.getSettings)
	r.Patch("/settings", h.updateSettings)
}

func (h *AdminHandlers) listRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		serviceUnavailable(ctx, w, "service request")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	filter, err := parseAdminRequestFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(services.CodeValidation, err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.requests.ListForAdmin(ctx, principal, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]adminRequestSummaryView, 0, len(page.Items))
	for _, item := range page.Items {
		out = append(out, adminRequestSummaryView{
			requestView: buildRequestView(item.ServiceRequest),
			partiesView: buildPartiesView(item.Parties),
			ItemsCount:  item.ItemsCount,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"requests": out,
		"pagination": map[string]int{
			"page":  page.Page,
			"limit": page.Limit,
			"total": page.Total,
			"pages": page.Pages(),
		},
	})
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseAdminRequestFilter(r *http.Request) (services.AdminRequestFilter, error) {
	query := r.URL.Query()
	var filter services.AdminRequestFilter
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := domain.ParseRequestStatus(raw)
		if !ok {
			return filter, filterError("status is not a known status")
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("shop_id")); raw != "" {
		shopID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || shopID <= 0 {
			return filter, filterError("shop_id must be a positive integer")
		}
		filter.ShopID = &shopID
	}
	page, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		switch {
		case errors.Is(err, pagination.ErrInvalidPage):
			return filter, filterError("page must be a positive integer")
		default:
			return filter, filterError("limit must be a positive integer")
		}
	}
	filter.Page, filter.Limit = page.Page, page.Limit
	return filter, nil
}

func (h *AdminHandlers) getRequest(w http.ResponseWriter, r *http.Request) {
	writeRequestDetail(w, r, h.requests)
}

func (h *AdminHandlers) sendQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, requestID, ok := h.transitionPreamble(w, r)
	if !ok {
		return
	}
	var payload sendQuoteRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	updated, err := h.requests.SendQuote(ctx, principal, requestID, services.QuoteCommand{
		Min:      *payload.QuoteMin,
		Max:      *payload.QuoteMax,
		Note:     payload.QuoteNote,
		VoiceKey: payload.VoiceKey,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, updated)
}

func (h *AdminHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, requestID, ok := h.transitionPreamble(w, r)
	if !ok {
		return
	}
	var payload confirmRequest
	if !decodeBody(w, r, &payload, true) {
		return
	}
	updated, err := h.requests.Confirm(ctx, principal, requestID, payload.ScheduledPickupAt)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, updated)
}

func (h *AdminHandlers) assignDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, requestID, ok := h.transitionPreamble(w, r)
	if !ok {
		return
	}
	var payload assignDeliveryRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	updated, err := h.requests.AssignDelivery(ctx, principal, requestID, payload.DeliveryPersonID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, updated)
}

func (h *AdminHandlers) simpleTransition(apply func(ctx context.Context, principal domain.Principal, requestID int64) (domain.ServiceRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, requestID, ok := h.transitionPreamble(w, r)
		if !ok {
			return
		}
		updated, err := apply(r.Context(), principal, requestID)
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		writeTransition(w, updated)
	}
}

func (h *AdminHandlers) transitionPreamble(w http.ResponseWriter, r *http.Request) (domain.Principal, int64, bool) {
	if h.requests == nil {
		serviceUnavailable(r.Context(), w, "service request")
		return domain.Principal{}, 0, false
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return domain.Principal{}, 0, false
	}
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return domain.Principal{}, 0, false
	}
	return principal, requestID, true
}

func (h *AdminHandlers) listDeliveryPersonnel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admin == nil {
		serviceUnavailable(ctx, w, "admin")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var active *bool
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError(services.CodeValidation, "active must be true or false", http.StatusBadRequest))
			return
		}
		active = &value
	}
	people, err := h.admin.ListDeliveryPersonnel(ctx, principal, active)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]deliveryPersonView, 0, len(people))
	for _, person := range people {
		out = append(out, buildDeliveryPersonView(person))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"delivery_personnel": out})
}

func (h *AdminHandlers) createDeliveryPerson(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admin == nil {
		serviceUnavailable(ctx, w, "admin")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload createDeliveryPersonRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	person, err := h.admin.CreateDeliveryPerson(ctx, principal, services.CreateDeliveryPersonCommand{Phone: payload.Phone, Name: payload.Name})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"delivery_person": buildDeliveryPersonView(person)})
}

func (h *AdminHandlers) setDeliveryPersonStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admin == nil {
		serviceUnavailable(ctx, w, "admin")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	personID, ok := pathID(w, r, "personID")
	if !ok {
		return
	}
	var payload deliveryPersonStatusRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	person, err := h.admin.SetDeliveryPersonActive(ctx, principal, personID, *payload.Active)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"delivery_person": buildDeliveryPersonView(person)})
}

func (h *AdminHandlers) listShops(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admin == nil {
		serviceUnavailable(ctx, w, "admin")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	shops, err := h.admin.ListShops(ctx, principal)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]shopView, 0, len(shops))
	for _, shop := range shops {
		out = append(out, buildShopView(shop))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"shops": out})
}

func (h *AdminHandlers) createShop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admin == nil {
		serviceUnavailable(ctx, w, "admin")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload createShopRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	shop, err := h.admin.CreateShop(ctx, principal, services.CreateShopCommand{Name: payload.Name, Address: payload.Address, Phone: payload.Phone})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"shop": buildShopView(shop)})
}

func (h *AdminHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		serviceUnavailable(ctx, w, "settings")
		return
	}
	current, err := h.settings.Current(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"settings": buildSettingsView(current)})
}

func (h *AdminHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		serviceUnavailable(ctx, w, "settings")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload updateSettingsRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	saved, err := h.settings.Update(ctx, principal, services.UpdateSettingsCommand{
		NotificationsEnabled: payload.NotificationsEnabled,
		MaxMediaBytes:        payload.MaxMediaBytes,
		MaxVideoDuration:     payload.MaxVideoDuration,
		MaxVoiceDuration:     payload.MaxVoiceDuration,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"settings": buildSettingsView(saved)})
}
