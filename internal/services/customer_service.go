package services

import (
	"context"
	"errors"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/textutil"
	"github.com/watchfix/api/internal/repositories"
)

const (
	customerEventProfileUpdated = "customer.profile_updated"
	customerEventGeocodeFailed  = "customer.geocode_failed"
)

// CustomerServiceDeps wires the customer profile service.
type CustomerServiceDeps struct {
	Customers repositories.CustomerRepository
	// Geocoder is optional; without it reverse geocoding reports unavailable.
	Geocoder ReverseGeocoder
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type customerService struct {
	customers repositories.CustomerRepository
	geocoder  ReverseGeocoder
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

var _ CustomerService = (*customerService)(nil)

// NewCustomerService constructs a CustomerService.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &customerService{
		customers: deps.Customers,
		geocoder:  deps.Geocoder,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

func (s *customerService) Profile(ctx context.Context, actor Principal) (domain.Customer, error) {
	if err := requireRole(actor, domain.RoleCustomer); err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.customers.FindByID(ctx, actor.ID)
	if err != nil {
		return domain.Customer{}, mapRepositoryError(err, "customer")
	}
	return customer, nil
}

func (s *customerService) UpdateProfile(ctx context.Context, actor Principal, cmd UpdateProfileCommand) (domain.Customer, error) {
	if err := requireRole(actor, domain.RoleCustomer); err != nil {
		return domain.Customer{}, err
	}
	if cmd.Name == nil && cmd.Email == nil && cmd.DefaultAddress == nil && cmd.Latitude == nil && cmd.Longitude == nil {
		return domain.Customer{}, validation(CodeValidation, "at least one profile field must be provided")
	}
	if err := checkCoordinates(cmd.Latitude, cmd.Longitude); err != nil {
		return domain.Customer{}, err
	}

	customer, err := s.customers.Update(ctx, actor.ID, repositories.CustomerUpdate{
		Name:           textutil.CleanOptional(cmd.Name, maxNameLength),
		Email:          trimOptional(cmd.Email),
		DefaultAddress: textutil.CleanOptional(cmd.DefaultAddress, maxAddressLength),
		Latitude:       cmd.Latitude,
		Longitude:      cmd.Longitude,
		UpdatedAt:      s.clock(),
	})
	if err != nil {
		return domain.Customer{}, mapRepositoryError(err, "customer")
	}
	s.logger(ctx, customerEventProfileUpdated, map[string]any{"customerId": actor.ID})
	return customer, nil
}

// Categories lists the supported item categories with display labels.
func (s *customerService) Categories() []CategoryOption {
	categories := domain.ItemCategories()
	options := make([]CategoryOption, 0, len(categories))
	for _, category := range categories {
		options = append(options, CategoryOption{Value: category, Label: textutil.Label(string(category))})
	}
	return options
}

// ReverseGeocode checks the coordinate ranges before calling out.
func (s *customerService) ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodeResult, error) {
	if err := checkCoordinates(&lat, &lon); err != nil {
		return GeocodeResult{}, err
	}
	if s.geocoder == nil {
		return GeocodeResult{}, newError(ErrUnavailable, CodeUnavailable, "reverse geocoding is not configured")
	}
	address, err := s.geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		s.logger(ctx, customerEventGeocodeFailed, map[string]any{"lat": lat, "lon": lon, "error": err.Error()})
		return GeocodeResult{}, wrapError(ErrUpstream, CodeGeocoding, "failed to resolve address", err)
	}
	return GeocodeResult{Address: address, Latitude: lat, Longitude: lon}, nil
}
