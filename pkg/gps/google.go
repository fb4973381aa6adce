package gps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"github.com/sitegate/sitegate/pkg"
)

// geolocator is the subset of the Google Maps client used here
type geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// GoogleProvider resolves position through the Google Geolocation API.
// It stands in for the browser location API where no GNSS receiver is available.
type GoogleProvider struct {
	client     geolocator
	considerIP bool
	now        func() time.Time
}

// NewGoogleProvider creates a provider authenticated with apiKey
func NewGoogleProvider(apiKey string, considerIP bool) (*GoogleProvider, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return &GoogleProvider{
		client:     client,
		considerIP: considerIP,
		now:        time.Now,
	}, nil
}

// CurrentLocation implements pkg.LocationProvider
func (g *GoogleProvider) CurrentLocation(ctx context.Context, req pkg.LocationRequest) (pkg.LocationSample, error) {
	resp, err := g.client.Geolocate(ctx, &maps.GeolocationRequest{
		ConsiderIP: g.considerIP,
	})
	if err != nil {
		return pkg.LocationSample{}, fmt.Errorf("google geolocation failed: %w", err)
	}
	if resp == nil {
		return pkg.LocationSample{}, fmt.Errorf("google geolocation returned no result")
	}

	return pkg.LocationSample{
		Point: pkg.GeoPoint{
			Latitude:  resp.Location.Lat,
			Longitude: resp.Location.Lng,
		},
		AccuracyMeters: resp.Accuracy,
		CapturedAtMs:   g.now().UnixMilli(),
		Source:         "google",
	}, nil
}
