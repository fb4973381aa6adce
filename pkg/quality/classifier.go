// Package quality grades GPS fixes by their reported accuracy radius
package quality

import (
	"fmt"
	"math"

	"github.com/sitegate/sitegate/pkg"
)

// MinAccuracyMeters replaces non-positive or NaN accuracy values
const MinAccuracyMeters = 1.0

// Thresholds are the upper accuracy bounds (meters) of each tier
type Thresholds struct {
	ExcellentMeters float64 `json:"excellent_m"`
	GoodMeters      float64 `json:"good_m"`
	FairMeters      float64 `json:"fair_m"`
}

// DefaultThresholds returns the standard tier cutoffs
func DefaultThresholds() Thresholds {
	return Thresholds{
		ExcellentMeters: 15,
		GoodMeters:      30,
		FairMeters:      50,
	}
}

// Validate checks that the cutoffs are positive and strictly increasing
func (t Thresholds) Validate() error {
	if t.ExcellentMeters <= 0 {
		return fmt.Errorf("excellent threshold must be positive, got %v", t.ExcellentMeters)
	}
	if t.GoodMeters <= t.ExcellentMeters || t.FairMeters <= t.GoodMeters {
		return fmt.Errorf("tier thresholds must increase: %v < %v < %v",
			t.ExcellentMeters, t.GoodMeters, t.FairMeters)
	}
	return nil
}

// Assessment is the classification of one accuracy value
type Assessment struct {
	Tier              pkg.QualityTier `json:"tier"`
	Acceptable        bool            `json:"acceptable"`
	ConfidencePercent int             `json:"confidence_pct"`
	Message           string          `json:"message"`
}

// Classifier maps accuracy to a quality tier
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier, falling back to defaults for invalid thresholds
func NewClassifier(t Thresholds) *Classifier {
	if t.Validate() != nil {
		t = DefaultThresholds()
	}
	return &Classifier{thresholds: t}
}

// Thresholds returns the cutoffs in use
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// NormalizeAccuracy clamps invalid accuracy values to MinAccuracyMeters
func NormalizeAccuracy(accuracy float64) (float64, error) {
	if math.IsNaN(accuracy) || accuracy <= 0 {
		return MinAccuracyMeters, fmt.Errorf("%w: %v", pkg.ErrInvalidAccuracy, accuracy)
	}
	return accuracy, nil
}

// Classify grades an accuracy radius in meters
func (c *Classifier) Classify(accuracy float64) Assessment {
	accuracy, _ = NormalizeAccuracy(accuracy)

	switch {
	case accuracy <= c.thresholds.ExcellentMeters:
		return Assessment{
			Tier:              pkg.TierExcellent,
			Acceptable:        true,
			ConfidencePercent: 95,
			Message:           fmt.Sprintf("Excellent GPS signal (±%.0fm)", accuracy),
		}
	case accuracy <= c.thresholds.GoodMeters:
		return Assessment{
			Tier:              pkg.TierGood,
			Acceptable:        true,
			ConfidencePercent: 80,
			Message:           fmt.Sprintf("Good GPS signal (±%.0fm)", accuracy),
		}
	case accuracy <= c.thresholds.FairMeters:
		return Assessment{
			Tier:              pkg.TierFair,
			Acceptable:        true,
			ConfidencePercent: 60,
			Message:           fmt.Sprintf("Fair GPS signal (±%.0fm)", accuracy),
		}
	default:
		// POOR is still validated; callers recommend calibration
		return Assessment{
			Tier:              pkg.TierPoor,
			Acceptable:        false,
			ConfidencePercent: 35,
			Message:           fmt.Sprintf("Weak GPS signal (±%.0fm), calibration recommended", accuracy),
		}
	}
}
