package validator

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/calibration"
	"github.com/sitegate/sitegate/pkg/geo"
)

var origin = pkg.GeoPoint{Latitude: 0, Longitude: 0}

func site(id, name string, center pkg.GeoPoint, radius float64) pkg.AuthorizedSite {
	return pkg.AuthorizedSite{ID: id, Name: name, Center: center, BaseRadiusMeters: radius, Active: true}
}

func sampleAt(center pkg.GeoPoint, bearing, distance, accuracy float64) pkg.LocationSample {
	return pkg.LocationSample{
		Point:          geo.DestinationPoint(center, bearing, distance),
		AccuracyMeters: accuracy,
		CapturedAtMs:   1700000000000,
	}
}

func TestValidateScenarios(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("a", "Site A", origin, 50)}

	tests := []struct {
		name       string
		distance   float64
		accuracy   float64
		wantRadius float64
		wantValid  bool
		wantMsg    string
	}{
		{"widened by accuracy", 60, 20, 70, true, "Authorized: 60m from Site A"},
		{"too far", 200, 10, 60, false, "Too far from Site A: 200m (limit 60m, 140m outside)"},
		{"bonus capped", 140, 400, 150, true, "Authorized: 140m from Site A"},
		{"inside base radius", 10, 5, 55, true, "Authorized: 10m from Site A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.Validate(sampleAt(origin, 90, tt.distance, tt.accuracy), sites, nil)
			if math.Abs(r.AdaptiveRadiusMeters-tt.wantRadius) > 1e-9 {
				t.Errorf("adaptive radius = %v; want %v", r.AdaptiveRadiusMeters, tt.wantRadius)
			}
			if r.Valid != tt.wantValid {
				t.Errorf("valid = %v; want %v", r.Valid, tt.wantValid)
			}
			if !strings.HasPrefix(r.Message, tt.wantMsg) {
				t.Errorf("message = %q; want prefix %q", r.Message, tt.wantMsg)
			}
			if r.ClosestSite == nil || r.ClosestSite.ID != "a" {
				t.Errorf("closest site = %+v", r.ClosestSite)
			}
		})
	}
}

func TestValidateBoundaryIsInclusive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAccuracyBonusMeters = 0
	v := New(cfg)

	s := sampleAt(origin, 0, 75, 10)
	d := geo.DistanceMeters(s.Point, origin)
	r := v.Validate(s, []pkg.AuthorizedSite{site("a", "A", origin, d)}, nil)

	if r.AdaptiveRadiusMeters != r.EffectiveDistanceMeters {
		t.Fatalf("test setup: radius %v != distance %v", r.AdaptiveRadiusMeters, r.EffectiveDistanceMeters)
	}
	if !r.Valid {
		t.Error("distance equal to radius must be valid")
	}
}

func TestValidateNoSites(t *testing.T) {
	v := New(DefaultConfig())

	for _, sites := range [][]pkg.AuthorizedSite{
		nil,
		{{ID: "x", Name: "Closed", Center: origin, BaseRadiusMeters: 100, Active: false}},
	} {
		r := v.Validate(sampleAt(origin, 0, 0, 5), sites, nil)
		if r.Valid || r.ClosestSite != nil {
			t.Errorf("expected invalid result without a site, got %+v", r)
		}
		if r.Message != "No authorized sites configured" {
			t.Errorf("message = %q", r.Message)
		}
	}
}

func TestValidatePicksClosestActiveSite(t *testing.T) {
	v := New(DefaultConfig())
	far := geo.DestinationPoint(origin, 90, 1000)
	near := geo.DestinationPoint(origin, 90, 100)
	inactive := geo.DestinationPoint(origin, 90, 20)

	sites := []pkg.AuthorizedSite{
		site("far", "Far", far, 50),
		site("near", "Near", near, 50),
		{ID: "closed", Name: "Closed", Center: inactive, BaseRadiusMeters: 50, Active: false},
	}

	r := v.Validate(sampleAt(origin, 90, 30, 5), sites, nil)
	if r.ClosestSite == nil || r.ClosestSite.ID != "near" {
		t.Fatalf("closest site = %+v; want near", r.ClosestSite)
	}
}

func TestValidateTieKeepsFirstSite(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("first", "First", origin, 50), site("second", "Second", origin, 50)}

	r := v.Validate(sampleAt(origin, 0, 10, 5), sites, nil)
	if r.ClosestSite.ID != "first" {
		t.Errorf("tie resolved to %q; want first", r.ClosestSite.ID)
	}
}

func TestValidateAppliesTrustedCalibration(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("a", "Site A", origin, 50)}
	biased := sampleAt(origin, 45, 150, 10)

	before := v.Validate(biased, sites, nil)
	if before.Valid {
		t.Fatal("setup: biased sample should be outside before calibration")
	}

	store := calibration.NewStore(calibration.DefaultConfig(), nil, nil)
	var samples []pkg.LocationSample
	for i := 0; i < 6; i++ {
		samples = append(samples, biased)
	}
	if _, err := store.Commit(context.Background(), sites[0], samples); err != nil {
		t.Fatalf("commit: %v", err)
	}

	after := v.Validate(biased, sites, store)
	if !after.CalibrationApplied {
		t.Fatal("calibration should be applied")
	}
	if after.EffectiveDistanceMeters >= before.EffectiveDistanceMeters {
		t.Errorf("effective distance %v not reduced from %v", after.EffectiveDistanceMeters, before.EffectiveDistanceMeters)
	}
	if !after.Valid {
		t.Errorf("calibrated sample should validate: %+v", after)
	}
	if after.DistanceMeters != before.DistanceMeters {
		t.Error("raw distance must not change with calibration")
	}
}

func TestValidateIgnoresUndersampledCalibration(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("a", "Site A", origin, 50)}
	snap := calibration.Snapshot{"a": {SiteID: "a", OffsetMeters: 500, SampleCount: 2}}

	r := v.Validate(sampleAt(origin, 0, 300, 10), sites, snap)
	if r.CalibrationApplied || r.Valid {
		t.Errorf("under-sampled record must not be applied: %+v", r)
	}
}

func TestValidateMessageReportsMeasuredDistance(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("a", "Site A", origin, 50)}

	tests := []struct {
		name     string
		distance float64
		offset   float64
		want     string
	}{
		{"inside after calibration", 100, 60, "Authorized: 100m, 40m calibrated from Site A"},
		{"outside after calibration", 300, 100, "Too far from Site A: 300m, 200m calibrated (limit 60m, 140m outside)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := calibration.Snapshot{"a": {SiteID: "a", OffsetMeters: tt.offset, SampleCount: 6}}
			r := v.Validate(sampleAt(origin, 90, tt.distance, 10), sites, snap)
			if !r.CalibrationApplied {
				t.Fatal("calibration should be applied")
			}
			if r.Message != tt.want {
				t.Errorf("message = %q; want %q", r.Message, tt.want)
			}
		})
	}
}

func TestValidateEffectiveDistanceClamped(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("a", "Site A", origin, 50)}
	snap := calibration.Snapshot{"a": {SiteID: "a", OffsetMeters: 80, SampleCount: 6}}

	r := v.Validate(sampleAt(origin, 0, 30, 10), sites, snap)
	if r.EffectiveDistanceMeters != 0 {
		t.Errorf("effective distance = %v; want 0", r.EffectiveDistanceMeters)
	}
}

func TestValidateInvalidAccuracyClamped(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("a", "Site A", origin, 50)}

	r := v.Validate(sampleAt(origin, 0, 10, -4), sites, nil)
	if r.AdaptiveRadiusMeters != 51 {
		t.Errorf("adaptive radius = %v; want 51", r.AdaptiveRadiusMeters)
	}
	if !r.Valid || r.QualityTier != pkg.TierExcellent {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestValidatePoorQualityRecommendsCalibration(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("a", "Site A", origin, 50)}

	r := v.Validate(sampleAt(origin, 0, 20, 80), sites, nil)
	if r.QualityTier != pkg.TierPoor || r.ConfidencePercent != 35 {
		t.Errorf("quality = %v/%d", r.QualityTier, r.ConfidencePercent)
	}
	if !r.CalibrationRecommended {
		t.Error("expected calibration recommendation")
	}
	if !r.Valid {
		t.Error("POOR fixes are not rejected outright")
	}
}

func TestValidateIsPure(t *testing.T) {
	v := New(DefaultConfig())
	sites := []pkg.AuthorizedSite{site("a", "Site A", origin, 50), site("b", "Site B", geo.DestinationPoint(origin, 0, 500), 80)}
	snap := calibration.Snapshot{"b": {SiteID: "b", OffsetMeters: 25, SampleCount: 6}}
	sample := sampleAt(origin, 10, 420, 35)

	first := v.Validate(sample, sites, snap)
	for i := 0; i < 10; i++ {
		if got := v.Validate(sample, sites, snap); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
	if _, ok := snap.Get("b"); !ok || len(snap) != 1 {
		t.Error("validation must not mutate calibrations")
	}
}
