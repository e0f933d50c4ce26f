package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/services"
)

type stubCustomerService struct {
	customer    domain.Customer
	geocodeArgs []float64
	geocodeErr  error
}

var _ services.CustomerService = (*stubCustomerService)(nil)

func (s *stubCustomerService) Profile(_ context.Context, actor services.Principal) (domain.Customer, error) {
	s.customer.ID = actor.ID
	return s.customer, nil
}

func (s *stubCustomerService) UpdateProfile(_ context.Context, actor services.Principal, cmd services.UpdateProfileCommand) (domain.Customer, error) {
	if cmd.Name != nil {
		s.customer.Name = cmd.Name
	}
	if cmd.Latitude != nil {
		s.customer.Latitude = cmd.Latitude
	}
	s.customer.ID = actor.ID
	return s.customer, nil
}

func (s *stubCustomerService) Categories() []services.CategoryOption {
	return []services.CategoryOption{{Value: domain.CategoryWatch, Label: "Watch"}, {Value: domain.CategorySmartWearable, Label: "Smart Wearable"}}
}

func (s *stubCustomerService) ReverseGeocode(_ context.Context, lat, lon float64) (services.GeocodeResult, error) {
	s.geocodeArgs = []float64{lat, lon}
	if s.geocodeErr != nil {
		return services.GeocodeResult{}, s.geocodeErr
	}
	return services.GeocodeResult{Address: "MG Road", Latitude: lat, Longitude: lon}, nil
}

func newCustomerRouter(svc services.CustomerService) http.Handler {
	return mountRoutes("/customer", NewCustomerHandlers(newTestAuthenticator(), svc).Routes)
}

func TestCustomerProfileEndpoints(t *testing.T) {
	svc := &stubCustomerService{customer: domain.Customer{Phone: "+919876543210"}}
	router := newCustomerRouter(svc)

	rr := doRequest(t, router, http.MethodGet, "/customer/profile", "customer-4", "")
	var body struct {
		Customer customerView `json:"customer"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusOK || body.Customer.ID != 4 {
		t.Fatalf("unexpected profile %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, router, http.MethodPatch, "/customer/profile", "customer-4", `{"name":"Ravi","latitude":12.9}`)
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusOK || body.Customer.Name == nil || *body.Customer.Name != "Ravi" {
		t.Fatalf("unexpected update %d %s", rr.Code, rr.Body.String())
	}

	if rr := doRequest(t, router, http.MethodPatch, "/customer/profile", "customer-4", `{"longitude":200}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodGet, "/customer/profile", "admin-1", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin, got %d", rr.Code)
	}
}

func TestCustomerCategories(t *testing.T) {
	rr := doRequest(t, newCustomerRouter(&stubCustomerService{}), http.MethodGet, "/customer/categories", "customer-1", "")
	var body struct {
		Categories []categoryView `json:"categories"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Categories) != 2 || body.Categories[1].Value != "smart_wearable" || body.Categories[1].Label != "Smart Wearable" {
		t.Fatalf("unexpected categories %s", rr.Body.String())
	}
}

func TestCustomerReverseGeocode(t *testing.T) {
	svc := &stubCustomerService{}
	router := newCustomerRouter(svc)

	rr := doRequest(t, router, http.MethodGet, "/customer/geocode?lat=12.97&lon=77.59", "customer-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(svc.geocodeArgs) != 2 || svc.geocodeArgs[0] != 12.97 {
		t.Fatalf("unexpected args %v", svc.geocodeArgs)
	}

	svc.geocodeArgs = nil
	if rr := doRequest(t, router, http.MethodGet, "/customer/geocode?lat=north", "customer-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if svc.geocodeArgs != nil {
		t.Fatalf("unparseable coordinates must not reach the service")
	}

	svc.geocodeErr = serviceErr(services.ErrUpstream, services.CodeGeocoding)
	if rr := doRequest(t, router, http.MethodGet, "/customer/geocode?lat=1&lon=1", "customer-1", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}
