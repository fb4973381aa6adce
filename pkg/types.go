package pkg

import (
	"context"
	"time"
)

// GeoPoint is a WGS84 coordinate in decimal degrees
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationSample is a single fix delivered by the device location API
type LocationSample struct {
	Point          GeoPoint `json:"point"`
	AccuracyMeters float64  `json:"accuracy_m"`
	CapturedAtMs   int64    `json:"captured_at_ms"`
	Source         string   `json:"source,omitempty"`
}

// CapturedAt returns the capture time of the sample
func (s LocationSample) CapturedAt() time.Time {
	return time.UnixMilli(s.CapturedAtMs)
}

// AuthorizedSite is a work site where clocking in/out is allowed
type AuthorizedSite struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	Center           GeoPoint `json:"center"`
	BaseRadiusMeters float64  `json:"base_radius_m"`
	Active           bool     `json:"active"`
}

// CalibrationRecord is the learned bias for one site on this device/user
type CalibrationRecord struct {
	SiteID             string   `json:"site_id"`
	OffsetMeters       float64  `json:"offset_m"`
	SampleCount        int      `json:"sample_count"`
	LastUpdatedMs      int64    `json:"last_updated_ms"`
	Centroid           GeoPoint `json:"centroid"`
	MeanAccuracyMeters float64  `json:"mean_accuracy_m"`
	AccuracySlope      float64  `json:"accuracy_slope"`
	FitR2              float64  `json:"fit_r2"`
}

// QualityTier summarizes fix accuracy
type QualityTier int

const (
	TierExcellent QualityTier = iota
	TierGood
	TierFair
	TierPoor
)

func (t QualityTier) String() string {
	switch t {
	case TierExcellent:
		return "EXCELLENT"
	case TierGood:
		return "GOOD"
	case TierFair:
		return "FAIR"
	default:
		return "POOR"
	}
}

// MarshalText encodes the tier by name
func (t QualityTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ValidationResult is the verdict of one validation cycle
type ValidationResult struct {
	Valid                   bool            `json:"valid"`
	ClosestSite             *AuthorizedSite `json:"closest_site"`
	DistanceMeters          float64         `json:"distance_m"`
	EffectiveDistanceMeters float64         `json:"effective_distance_m"`
	AdaptiveRadiusMeters    float64         `json:"adaptive_radius_m"`
	Message                 string          `json:"message"`
	CalibrationApplied      bool            `json:"calibration_applied"`
	CalibrationRecommended  bool            `json:"calibration_recommended"`
	LocationChanged         bool            `json:"location_changed"`
	PreviousSiteName        string          `json:"previous_site_name,omitempty"`
	QualityTier             QualityTier     `json:"quality_tier"`
	ConfidencePercent       int             `json:"confidence_pct"`
}

// Registration is the last successful clock registration for the current work-day
type Registration struct {
	SiteID       string   `json:"site_id"`
	SiteName     string   `json:"site_name"`
	Point        GeoPoint `json:"point"`
	RegisteredAt int64    `json:"registered_at_ms"`
}

// SessionState is the read-only projection handed to UI callers
type SessionState struct {
	Sample                     *LocationSample   `json:"sample"`
	Result                     *ValidationResult `json:"result"`
	Phase                      Phase             `json:"phase"`
	Loading                    bool              `json:"loading"`
	Validating                 bool              `json:"validating"`
	Calibrating                bool              `json:"calibrating"`
	CalibrationProgressPercent int               `json:"calibration_progress_pct"`
	Error                      string            `json:"error,omitempty"`
}

// Phase is the session state machine position
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseLoading     Phase = "loading"
	PhaseValidating  Phase = "validating"
	PhaseCalibrating Phase = "calibrating"
	PhaseReady       Phase = "ready"
	PhaseError       Phase = "error"
)

// LocationRequest carries the options passed to the device location API
type LocationRequest struct {
	HighAccuracy bool          `json:"high_accuracy"`
	Timeout      time.Duration `json:"timeout"`
	MaxCachedAge time.Duration `json:"max_cached_age"`
}

// LocationProvider is the device location API
type LocationProvider interface {
	CurrentLocation(ctx context.Context, req LocationRequest) (LocationSample, error)
}

// Event represents an engine event published to sinks
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	SiteID    string                 `json:"site_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSink receives engine events
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// Event types
const (
	EventValidation         = "validation"
	EventCalibration        = "calibration"
	EventCalibrationCleared = "calibration_cleared"
	EventRelocation         = "relocation"
	EventError              = "error"
)

// Environment tags
const (
	EnvNative  = "native"
	EnvBrowser = "browser"
)

// AllSites selects every calibration record in a clear operation
const AllSites = "all"
