package gps

import (
	"fmt"
	"math"

	"github.com/sitegate/sitegate/pkg"
)

// ValidateSample rejects fixes a provider should never have produced
func ValidateSample(s pkg.LocationSample) error {
	lat, lon := s.Point.Latitude, s.Point.Longitude
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return fmt.Errorf("coordinates are NaN")
	}
	// Check coordinate bounds
	if lat < -90 || lat > 90 {
		return fmt.Errorf("invalid latitude: %f", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("invalid longitude: %f", lon)
	}
	if math.IsInf(s.AccuracyMeters, 0) {
		return fmt.Errorf("accuracy is infinite")
	}
	return nil
}
