package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/services"
)

type stubAdminService struct {
	people []domain.DeliveryPerson
	shops  []domain.Shop
	active *bool
}

var _ services.AdminService = (*stubAdminService)(nil)

func (s *stubAdminService) CreateDeliveryPerson(_ context.Context, _ services.Principal, cmd services.CreateDeliveryPersonCommand) (domain.DeliveryPerson, error) {
	for _, p := range s.people {
		if p.Phone == cmd.Phone {
			return domain.DeliveryPerson{}, serviceErr(services.ErrConflict, services.CodePhoneExists)
		}
	}
	person := domain.DeliveryPerson{ID: int64(len(s.people) + 1), Phone: cmd.Phone, Name: cmd.Name, Active: true}
	s.people = append(s.people, person)
	return person, nil
}

func (s *stubAdminService) ListDeliveryPersonnel(_ context.Context, _ services.Principal, active *bool) ([]domain.DeliveryPerson, error) {
	s.active = active
	return s.people, nil
}

func (s *stubAdminService) SetDeliveryPersonActive(_ context.Context, _ services.Principal, id int64, active bool) (domain.DeliveryPerson, error) {
	for i := range s.people {
		if s.people[i].ID == id {
			s.people[i].Active = active
			return s.people[i], nil
		}
	}
	return domain.DeliveryPerson{}, serviceErr(services.ErrNotFound, services.CodeNotFound)
}

func (s *stubAdminService) ListShops(context.Context, services.Principal) ([]domain.Shop, error) {
	return s.shops, nil
}

func (s *stubAdminService) CreateShop(_ context.Context, _ services.Principal, cmd services.CreateShopCommand) (domain.Shop, error) {
	shop := domain.Shop{ID: int64(len(s.shops) + 1), Name: cmd.Name, Address: cmd.Address, Phone: cmd.Phone}
	s.shops = append(s.shops, shop)
	return shop, nil
}

type stubSettingsService struct {
	current services.Settings
}

func (s *stubSettingsService) Current(context.Context) (services.Settings, error) {
	return s.current, nil
}

func (s *stubSettingsService) Update(_ context.Context, _ services.Principal, cmd services.UpdateSettingsCommand) (services.Settings, error) {
	if cmd.NotificationsEnabled != nil {
		s.current.NotificationsEnabled = *cmd.NotificationsEnabled
	}
	if cmd.MaxVideoDuration != nil {
		s.current.MaxVideoDuration = *cmd.MaxVideoDuration
	}
	s.current.Version++
	return s.current, nil
}

func newAdminRouter(requests services.RequestService, admin services.AdminService, settings services.SettingsService) http.Handler {
	return mountRoutes("/admin", NewAdminHandlers(newTestAuthenticator(), requests, admin, settings).Routes)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	router := newAdminRouter(&stubRequestService{}, &stubAdminService{}, &stubSettingsService{})
	for _, token := range []string{"customer-1", "delivery-1"} {
		if rr := doRequest(t, router, http.MethodGet, "/admin/shops", token, ""); rr.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", token, rr.Code)
		}
	}
	if rr := doRequest(t, router, http.MethodGet, "/admin/shops", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestAdminListServiceRequests(t *testing.T) {
	var gotFilter services.AdminRequestFilter
	customerName := "Asha"
	svc := &stubRequestService{listAdminFn: func(_ context.Context, _ services.Principal, filter services.AdminRequestFilter) (domain.Page[domain.AdminRequestSummary], error) {
		gotFilter = filter
		return domain.Page[domain.AdminRequestSummary]{
			Items: []domain.AdminRequestSummary{{
				ServiceRequest: domain.ServiceRequest{ID: 3, Status: domain.StatusQuoted},
				Parties:        domain.RequestParties{CustomerName: &customerName},
				ItemsCount:     1,
			}},
			Page:  2,
			Limit: 10,
			Total: 25,
		}, nil
	}}
	router := newAdminRouter(svc, &stubAdminService{}, &stubSettingsService{})

	rr := doRequest(t, router, http.MethodGet, "/admin/service-requests/?status=QUOTED&shop_id=4&page=2&limit=10", "admin-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotFilter.Status == nil || *gotFilter.Status != domain.StatusQuoted || gotFilter.ShopID == nil || *gotFilter.ShopID != 4 || gotFilter.Page != 2 || gotFilter.Limit != 10 {
		t.Fatalf("unexpected filter %+v", gotFilter)
	}
	var body struct {
		Requests []struct {
			ID           int64  `json:"id"`
			CustomerName string `json:"customer_name"`
			ItemsCount   int    `json:"items_count"`
		} `json:"requests"`
		Pagination map[string]int `json:"pagination"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Requests) != 1 || body.Requests[0].CustomerName != "Asha" || body.Pagination["pages"] != 3 || body.Pagination["total"] != 25 {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	for _, query := range []string{"status=cancelled", "shop_id=abc", "page=x"} {
		if rr := doRequest(t, router, http.MethodGet, "/admin/service-requests/?"+query, "admin-1", ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestAdminSendQuote(t *testing.T) {
	var got services.QuoteCommand
	svc := &stubRequestService{sendQuoteFn: func(_ context.Context, _ services.Principal, requestID int64, cmd services.QuoteCommand) (services.ServiceRequest, error) {
		if cmd.Max < cmd.Min {
			return services.ServiceRequest{}, serviceErr(services.ErrValidation, services.CodeValidation)
		}
		got = cmd
		return services.ServiceRequest{ID: requestID, Status: domain.StatusQuoted, QuoteMin: &cmd.Min, QuoteMax: &cmd.Max}, nil
	}}
	router := newAdminRouter(svc, &stubAdminService{}, &stubSettingsService{})

	rr := doRequest(t, router, http.MethodPost, "/admin/service-requests/6/send-quote", "admin-1", `{"quote_min":0,"quote_max":1500,"quote_note":"strap"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Min != 0 || got.Max != 1500 || got.Note == nil || *got.Note != "strap" {
		t.Fatalf("unexpected command %+v", got)
	}

	cases := map[string]string{
		"missing min":    `{"quote_max":10}`,
		"negative":       `{"quote_min":-1,"quote_max":10}`,
		"inverted range": `{"quote_min":500,"quote_max":100}`,
	}
	for name, body := range cases {
		if rr := doRequest(t, router, http.MethodPost, "/admin/service-requests/6/send-quote", "admin-1", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rr.Code)
		}
	}
}

func TestAdminConfirmAndAssign(t *testing.T) {
	var gotPickup *time.Time
	var gotPerson int64
	svc := &stubRequestService{
		confirmFn: func(_ context.Context, _ services.Principal, requestID int64, at *time.Time) (services.ServiceRequest, error) {
			gotPickup = at
			return services.ServiceRequest{ID: requestID, Status: domain.StatusScheduled, ScheduledPickupAt: at}, nil
		},
		assignFn: func(_ context.Context, _ services.Principal, requestID, personID int64) (services.ServiceRequest, error) {
			if personID == 404 {
				return services.ServiceRequest{}, serviceErr(services.ErrNotFound, services.CodeNotFound)
			}
			gotPerson = personID
			return services.ServiceRequest{ID: requestID, DeliveryPersonID: &personID}, nil
		},
	}
	router := newAdminRouter(svc, &stubAdminService{}, &stubSettingsService{})

	rr := doRequest(t, router, http.MethodPost, "/admin/service-requests/6/confirm", "admin-1", `{"scheduled_pickup_at":"2026-10-18T04:30:00Z"}`)
	if rr.Code != http.StatusOK || gotPickup == nil || gotPickup.Hour() != 4 {
		t.Fatalf("unexpected confirm result %d %v", rr.Code, gotPickup)
	}
	gotPickup = nil
	if rr := doRequest(t, router, http.MethodPost, "/admin/service-requests/6/confirm", "admin-1", ""); rr.Code != http.StatusOK || gotPickup != nil {
		t.Fatalf("confirm without body should pass a nil pickup time, got %d %v", rr.Code, gotPickup)
	}

	if rr := doRequest(t, router, http.MethodPost, "/admin/service-requests/6/assign-delivery", "admin-1", `{"delivery_person_id":3}`); rr.Code != http.StatusOK || gotPerson != 3 {
		t.Fatalf("unexpected assign result %d %d", rr.Code, gotPerson)
	}
	if rr := doRequest(t, router, http.MethodPost, "/admin/service-requests/6/assign-delivery", "admin-1", `{"delivery_person_id":404}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPost, "/admin/service-requests/6/assign-delivery", "admin-1", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminStatusTransitions(t *testing.T) {
	var seen []domain.RequestStatus
	svc := &stubRequestService{statusFn: func(_ context.Context, _ services.Principal, requestID int64, to domain.RequestStatus) (services.ServiceRequest, error) {
		seen = append(seen, to)
		return services.ServiceRequest{ID: requestID, Status: to}, nil
	}}
	router := newAdminRouter(svc, &stubAdminService{}, &stubSettingsService{})

	for _, action := range []string{"mark-received", "mark-in-repair", "mark-ready-for-payment", "mark-paid"} {
		rr := doRequest(t, router, http.MethodPost, "/admin/service-requests/9/"+action, "admin-1", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", action, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", action, err)
		}
		if body["status"] != string(seen[len(seen)-1]) {
			t.Fatalf("%s: expected top-level status %s, got %v", action, seen[len(seen)-1], body["status"])
		}
	}
	want := []domain.RequestStatus{domain.StatusReceivedShop, domain.StatusInRepair, domain.StatusReadyForPayment, domain.StatusPaymentReceived}
	if len(seen) != len(want) {
		t.Fatalf("unexpected transitions %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestAdminDeliveryPersonnel(t *testing.T) {
	admin := &stubAdminService{}
	router := newAdminRouter(&stubRequestService{}, admin, &stubSettingsService{})

	rr := doRequest(t, router, http.MethodPost, "/admin/delivery-personnel", "admin-1", `{"phone":"+919700000001","name":"Kiran"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := doRequest(t, router, http.MethodPost, "/admin/delivery-personnel", "admin-1", `{"phone":"+919700000001","name":"Other"}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPost, "/admin/delivery-personnel", "admin-1", `{"phone":"+919700000002"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without name, got %d", rr.Code)
	}

	rr = doRequest(t, router, http.MethodPatch, "/admin/delivery-personnel/1/status", "admin-1", `{"active":false}`)
	if rr.Code != http.StatusOK || admin.people[0].Active {
		t.Fatalf("expected deactivation, got %d %+v", rr.Code, admin.people)
	}
	if rr := doRequest(t, router, http.MethodPatch, "/admin/delivery-personnel/1/status", "admin-1", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without active flag, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPatch, "/admin/delivery-personnel/7/status", "admin-1", `{"active":true}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	if rr := doRequest(t, router, http.MethodGet, "/admin/delivery-personnel?active=false", "admin-1", ""); rr.Code != http.StatusOK || admin.active == nil || *admin.active {
		t.Fatalf("expected active filter to be forwarded, got %d %v", rr.Code, admin.active)
	}
	if rr := doRequest(t, router, http.MethodGet, "/admin/delivery-personnel?active=maybe", "admin-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminShopsAndSettings(t *testing.T) {
	settings := &stubSettingsService{current: services.Settings{Version: 1, MaxVideoDuration: 60}}
	router := newAdminRouter(&stubRequestService{}, &stubAdminService{}, settings)

	if rr := doRequest(t, router, http.MethodPost, "/admin/shops", "admin-1", `{"name":"Main"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without address and phone, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPost, "/admin/shops", "admin-1", `{"name":"Main","address":"1 Residency Road","phone":"0801234"}`); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	rr := doRequest(t, router, http.MethodGet, "/admin/shops", "admin-1", "")
	var shops struct {
		Shops []shopView `json:"shops"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &shops); err != nil || len(shops.Shops) != 1 {
		t.Fatalf("unexpected shops %s", rr.Body.String())
	}

	rr = doRequest(t, router, http.MethodPatch, "/admin/settings", "admin-1", `{"notifications_enabled":true,"max_video_duration":90}`)
	var saved struct {
		Settings settingsView `json:"settings"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusOK || saved.Settings.Version != 2 || !saved.Settings.NotificationsEnabled || saved.Settings.MaxVideoDuration != 90 {
		t.Fatalf("unexpected settings %d %s", rr.Code, rr.Body.String())
	}
	if rr := doRequest(t, router, http.MethodPatch, "/admin/settings", "admin-1", `{"max_voice_duration":0}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero duration, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodGet, "/admin/settings", "admin-1", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
