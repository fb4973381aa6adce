// Package validator decides whether a location sample is inside an authorized site
package validator

import (
	"fmt"
	"math"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/geo"
	"github.com/sitegate/sitegate/pkg/quality"
)

// Calibrations is read-only access to calibration records
type Calibrations interface {
	Get(siteID string) (pkg.CalibrationRecord, bool)
}

// Config holds the validator's design constants
type Config struct {
	MaxAccuracyBonusMeters float64            `json:"max_accuracy_bonus_m"`
	MinCalibrationSamples  int                `json:"min_calibration_samples"`
	Thresholds             quality.Thresholds `json:"thresholds"`
}

// DefaultConfig returns the standard validator constants
func DefaultConfig() Config {
	return Config{
		MaxAccuracyBonusMeters: 100,
		MinCalibrationSamples:  5,
		Thresholds:             quality.DefaultThresholds(),
	}
}

// Validator is a pure function object; it never mutates calibration state
type Validator struct {
	config     Config
	classifier *quality.Classifier
}

// New creates a validator
func New(config Config) *Validator {
	if config.MaxAccuracyBonusMeters < 0 {
		config.MaxAccuracyBonusMeters = 0
	}
	if config.MinCalibrationSamples <= 0 {
		config.MinCalibrationSamples = DefaultConfig().MinCalibrationSamples
	}
	return &Validator{
		config:     config,
		classifier: quality.NewClassifier(config.Thresholds),
	}
}

// Validate returns the verdict for sample against sites
func (v *Validator) Validate(sample pkg.LocationSample, sites []pkg.AuthorizedSite, calibrations Calibrations) pkg.ValidationResult {
	accuracy, _ := quality.NormalizeAccuracy(sample.AccuracyMeters)
	assessment := v.classifier.Classify(accuracy)

	result := pkg.ValidationResult{
		QualityTier:       assessment.Tier,
		ConfidencePercent: assessment.ConfidencePercent,
	}

	closest, distance, ok := closestActiveSite(sample.Point, sites)
	if !ok {
		result.Message = "No authorized sites configured"
		return result
	}

	site := closest
	result.ClosestSite = &site
	result.DistanceMeters = distance
	result.AdaptiveRadiusMeters = site.BaseRadiusMeters + math.Min(accuracy, v.config.MaxAccuracyBonusMeters)

	effective := distance
	if calibrations != nil {
		if rec, found := calibrations.Get(site.ID); found && rec.SampleCount >= v.config.MinCalibrationSamples {
			effective = math.Max(0, distance-rec.OffsetMeters)
			result.CalibrationApplied = true
		}
	}
	result.EffectiveDistanceMeters = effective

	// boundary counts as inside
	result.Valid = effective <= result.AdaptiveRadiusMeters
	result.CalibrationRecommended = assessment.Tier == pkg.TierPoor && !result.CalibrationApplied

	measured := fmt.Sprintf("%.0fm", distance)
	if result.CalibrationApplied {
		measured += fmt.Sprintf(", %.0fm calibrated", effective)
	}
	if result.Valid {
		result.Message = fmt.Sprintf("Authorized: %s from %s", measured, site.Name)
	} else {
		result.Message = fmt.Sprintf("Too far from %s: %s (limit %.0fm, %.0fm outside)",
			site.Name, measured, result.AdaptiveRadiusMeters, effective-result.AdaptiveRadiusMeters)
	}
	if result.CalibrationRecommended {
		result.Message += ". " + assessment.Message
	}
	return result
}

// closestActiveSite returns the active site nearest to p; ties keep the earlier site
func closestActiveSite(p pkg.GeoPoint, sites []pkg.AuthorizedSite) (pkg.AuthorizedSite, float64, bool) {
	var (
		best     pkg.AuthorizedSite
		bestDist = math.Inf(1)
		found    bool
	)
	for _, s := range sites {
		if !s.Active {
			continue
		}
		d := geo.DistanceMeters(p, s.Center)
		if d < bestDist {
			best, bestDist, found = s, d, true
		}
	}
	return best, bestDist, found
}

// ClosestActiveSite exposes the nearest-site lookup used by calibration
func ClosestActiveSite(p pkg.GeoPoint, sites []pkg.AuthorizedSite) (pkg.AuthorizedSite, float64, error) {
	site, d, ok := closestActiveSite(p, sites)
	if !ok {
		return pkg.AuthorizedSite{}, 0, pkg.ErrNoAuthorizedSites
	}
	return site, d, nil
}
