package geocoding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"
)

// ErrNoResult is returned when the provider has no address for the coordinates.
var ErrNoResult = errors.New("geocoding: no address for coordinates")

// Provider resolves coordinates to a formatted street address.
type Provider interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

type reverseGeocoder interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GoogleMaps reverse-geocodes through the Google Maps Geocoding API.
type GoogleMaps struct {
	client reverseGeocoder
}

// NewGoogleMaps builds a provider from an API key. Extra options (for example
// maps.WithBaseURL in tests) are forwarded to the maps client.
func NewGoogleMaps(apiKey string, opts ...maps.ClientOption) (*GoogleMaps, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("geocoding: api key is required")
	}
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("geocoding: build maps client: %w", err)
	}
	return &GoogleMaps{client: client}, nil
}

// ReverseGeocode returns the first formatted address for the coordinates.
func (g *GoogleMaps) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lon},
	})
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return "", ErrNoResult
		}
		return "", fmt.Errorf("geocoding: reverse geocode: %w", err)
	}
	for _, result := range results {
		if address := strings.TrimSpace(result.FormattedAddress); address != "" {
			return address, nil
		}
	}
	return "", ErrNoResult
}

// Disabled is used when no API key is configured; every lookup reports no result.
type Disabled struct{}

// ReverseGeocode implements Provider.
func (Disabled) ReverseGeocode(context.Context, float64, float64) (string, error) {
	return "", ErrNoResult
}
