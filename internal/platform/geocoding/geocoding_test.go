package geocoding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

type stubGeocoder struct {
	results []maps.GeocodingResult
	err     error
	req     *maps.GeocodingRequest
}

func (s *stubGeocoder) ReverseGeocode(_ context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error) {
	s.req = r
	return s.results, s.err
}

func TestReverseGeocodeReturnsFirstAddress(t *testing.T) {
	stub := &stubGeocoder{results: []maps.GeocodingResult{
		{FormattedAddress: " "},
		{FormattedAddress: "12 Lake Rd, Bengaluru"},
	}}
	provider := &GoogleMaps{client: stub}

	address, err := provider.ReverseGeocode(context.Background(), 12.97, 77.59)
	require.NoError(t, err)
	assert.Equal(t, "12 Lake Rd, Bengaluru", address)
	require.NotNil(t, stub.req.LatLng)
	assert.Equal(t, 12.97, stub.req.LatLng.Lat)
	assert.Equal(t, 77.59, stub.req.LatLng.Lng)
}

func TestReverseGeocodeNoResults(t *testing.T) {
	provider := &GoogleMaps{client: &stubGeocoder{}}
	_, err := provider.ReverseGeocode(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNoResult)

	provider = &GoogleMaps{client: &stubGeocoder{err: errors.New("maps: ZERO_RESULTS - ")}}
	_, err = provider.ReverseGeocode(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestReverseGeocodeWrapsUpstreamError(t *testing.T) {
	provider := &GoogleMaps{client: &stubGeocoder{err: errors.New("maps: REQUEST_DENIED")}}
	_, err := provider.ReverseGeocode(context.Background(), 1, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoResult)
}

func TestNewGoogleMapsRequiresKey(t *testing.T) {
	_, err := NewGoogleMaps("  ")
	assert.Error(t, err)
	_, err = Disabled{}.ReverseGeocode(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNoResult)
}
