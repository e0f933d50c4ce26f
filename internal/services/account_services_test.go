package services

import (
	"context"
	"errors"
	"testing"

	"github.com/watchfix/api/internal/domain"
)

type stubGeocoder struct {
	calls   int
	address string
	err     error
}

func (g *stubGeocoder) ReverseGeocode(context.Context, float64, float64) (string, error) {
	g.calls++
	return g.address, g.err
}

func TestCustomerProfile(t *testing.T) {
	store := newMemStore()
	c := store.addCustomer("+919876543210")
	svc, err := NewCustomerService(CustomerServiceDeps{Customers: memCustomers{store}, Clock: fixedClock()})
	if err != nil {
		t.Fatalf("NewCustomerService: %v", err)
	}
	ctx := context.Background()

	_, err = svc.UpdateProfile(ctx, customer(c.ID), UpdateProfileCommand{})
	assertKind(t, err, ErrValidation, CodeValidation)
	_, err = svc.UpdateProfile(ctx, customer(c.ID), UpdateProfileCommand{Latitude: ptr(-91.0)})
	assertKind(t, err, ErrValidation, CodeValidation)

	updated, err := svc.UpdateProfile(ctx, customer(c.ID), UpdateProfileCommand{Name: ptr("  Ravi <script>x</script>")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Name == nil || *updated.Name != "Ravi" {
		t.Fatalf("unexpected name %v", updated.Name)
	}

	profile, err := svc.Profile(ctx, customer(c.ID))
	if err != nil || *profile.Name != "Ravi" {
		t.Fatalf("Profile: %v %+v", err, profile)
	}
	if _, err := svc.Profile(ctx, admin(1)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected admin to be forbidden, got %v", err)
	}
}

func TestCategoriesHaveLabels(t *testing.T) {
	svc, err := NewCustomerService(CustomerServiceDeps{Customers: memCustomers{newMemStore()}})
	if err != nil {
		t.Fatalf("NewCustomerService: %v", err)
	}
	options := svc.Categories()
	if len(options) != len(domain.ItemCategories()) {
		t.Fatalf("expected every category, got %d", len(options))
	}
	for _, option := range options {
		if option.Label == "" || option.Label == string(option.Value) {
			t.Fatalf("expected display label for %s, got %q", option.Value, option.Label)
		}
	}
}

func TestReverseGeocode(t *testing.T) {
	geocoder := &stubGeocoder{address: "MG Road, Bengaluru"}
	svc, err := NewCustomerService(CustomerServiceDeps{Customers: memCustomers{newMemStore()}, Geocoder: geocoder})
	if err != nil {
		t.Fatalf("NewCustomerService: %v", err)
	}
	ctx := context.Background()

	_, err = svc.ReverseGeocode(ctx, 12.9, 200)
	assertKind(t, err, ErrValidation, CodeValidation)
	if geocoder.calls != 0 {
		t.Fatalf("out of range coordinates must not reach the geocoder")
	}

	result, err := svc.ReverseGeocode(ctx, 12.97, 77.59)
	if err != nil {
		t.Fatalf("ReverseGeocode: %v", err)
	}
	if result.Address != "MG Road, Bengaluru" || result.Latitude != 12.97 {
		t.Fatalf("unexpected result %+v", result)
	}

	geocoder.err = errors.New("quota")
	_, err = svc.ReverseGeocode(ctx, 12.97, 77.59)
	assertKind(t, err, ErrUpstream, CodeGeocoding)

	disabled, _ := NewCustomerService(CustomerServiceDeps{Customers: memCustomers{newMemStore()}})
	_, err = disabled.ReverseGeocode(ctx, 12.97, 77.59)
	assertKind(t, err, ErrUnavailable, CodeUnavailable)
}

func TestAdminManagesDeliveryPersonnel(t *testing.T) {
	store := newMemStore()
	svc, err := NewAdminService(AdminServiceDeps{Delivery: memDelivery{store}, Shops: memShops{store}, Clock: fixedClock()})
	if err != nil {
		t.Fatalf("NewAdminService: %v", err)
	}
	ctx := context.Background()

	person, err := svc.CreateDeliveryPerson(ctx, admin(1), CreateDeliveryPersonCommand{Phone: "+919700000001", Name: " Kiran "})
	if err != nil {
		t.Fatalf("CreateDeliveryPerson: %v", err)
	}
	if !person.Active || person.Name != "Kiran" {
		t.Fatalf("unexpected person %+v", person)
	}

	_, err = svc.CreateDeliveryPerson(ctx, admin(1), CreateDeliveryPersonCommand{Phone: "+919700000001", Name: "Other"})
	assertKind(t, err, ErrConflict, CodePhoneExists)
	_, err = svc.CreateDeliveryPerson(ctx, admin(1), CreateDeliveryPersonCommand{Phone: "+919700000002"})
	assertKind(t, err, ErrValidation, CodeValidation)
	_, err = svc.CreateDeliveryPerson(ctx, customer(1), CreateDeliveryPersonCommand{Phone: "+919700000002", Name: "X"})
	assertKind(t, err, ErrForbidden, "")

	if _, err := svc.SetDeliveryPersonActive(ctx, admin(1), person.ID, false); err != nil {
		t.Fatalf("SetDeliveryPersonActive: %v", err)
	}
	_, err = svc.SetDeliveryPersonActive(ctx, admin(1), 404, true)
	assertKind(t, err, ErrNotFound, CodeNotFound)

	active, err := svc.ListDeliveryPersonnel(ctx, admin(1), ptr(true))
	if err != nil {
		t.Fatalf("ListDeliveryPersonnel: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active personnel, got %+v", active)
	}
	all, _ := svc.ListDeliveryPersonnel(ctx, admin(1), nil)
	if len(all) != 1 {
		t.Fatalf("expected one person, got %d", len(all))
	}
}

func TestAdminManagesShops(t *testing.T) {
	store := newMemStore()
	svc, err := NewAdminService(AdminServiceDeps{Delivery: memDelivery{store}, Shops: memShops{store}})
	if err != nil {
		t.Fatalf("NewAdminService: %v", err)
	}
	ctx := context.Background()

	_, err = svc.CreateShop(ctx, admin(1), CreateShopCommand{Name: "Main"})
	assertKind(t, err, ErrValidation, CodeValidation)

	shop, err := svc.CreateShop(ctx, admin(1), CreateShopCommand{Name: "Main", Address: "1 Residency Road", Phone: " 080 1234 "})
	if err != nil {
		t.Fatalf("CreateShop: %v", err)
	}
	if shop.Phone != "080 1234" {
		t.Fatalf("unexpected phone %q", shop.Phone)
	}
	shops, err := svc.ListShops(ctx, admin(1))
	if err != nil || len(shops) != 1 {
		t.Fatalf("ListShops: %v %+v", err, shops)
	}
}

func TestSettingsDefaultsAndUpdate(t *testing.T) {
	store := newMemStore()
	svc, err := NewSettingsService(SettingsServiceDeps{Repository: memSettings{store}, Clock: fixedClock()})
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}
	ctx := context.Background()

	current, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.Version != 0 || current.MaxMediaBytes != defaultMaxMediaBytes || current.MaxVideoDuration != defaultMaxVideoDuration {
		t.Fatalf("unexpected defaults %+v", current)
	}

	_, err = svc.Update(ctx, admin(1), UpdateSettingsCommand{})
	assertKind(t, err, ErrValidation, CodeValidation)
	_, err = svc.Update(ctx, admin(1), UpdateSettingsCommand{MaxVoiceDuration: ptr(0)})
	assertKind(t, err, ErrValidation, CodeValidation)
	_, err = svc.Update(ctx, customer(1), UpdateSettingsCommand{NotificationsEnabled: ptr(true)})
	assertKind(t, err, ErrForbidden, "")

	saved, err := svc.Update(ctx, admin(1), UpdateSettingsCommand{NotificationsEnabled: ptr(true), MaxVideoDuration: ptr(90)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if saved.Version != 1 || !saved.NotificationsEnabled || saved.MaxVideoDuration != 90 || saved.MaxMediaBytes != defaultMaxMediaBytes {
		t.Fatalf("unexpected saved settings %+v", saved)
	}

	again, err := svc.Update(ctx, admin(1), UpdateSettingsCommand{NotificationsEnabled: ptr(false)})
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if again.Version != 2 || again.NotificationsEnabled || again.MaxVideoDuration != 90 {
		t.Fatalf("unexpected settings after second update %+v", again)
	}
}
