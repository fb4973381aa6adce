package gps

import (
	"context"
	"time"

	"github.com/sitegate/sitegate/pkg"
)

// FixedProvider reports a configured position, used for kiosks and simulation
type FixedProvider struct {
	Point          pkg.GeoPoint
	AccuracyMeters float64
	Now            func() time.Time
}

// CurrentLocation implements pkg.LocationProvider
func (f *FixedProvider) CurrentLocation(ctx context.Context, req pkg.LocationRequest) (pkg.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return pkg.LocationSample{}, err
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return pkg.LocationSample{
		Point:          f.Point,
		AccuracyMeters: f.AccuracyMeters,
		CapturedAtMs:   now().UnixMilli(),
		Source:         "fixed",
	}, nil
}
