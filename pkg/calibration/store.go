// Package calibration learns and persists per-site GPS bias corrections
package calibration

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sajari/regression"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/geo"
	"github.com/sitegate/sitegate/pkg/logx"
)

// Backend is durable storage for calibration records
type Backend interface {
	Load(ctx context.Context) ([]pkg.CalibrationRecord, error)
	Save(ctx context.Context, record pkg.CalibrationRecord) error
	Delete(ctx context.Context, siteID string) error
	DeleteAll(ctx context.Context) error
}

// Config controls when a calibration is accepted
type Config struct {
	MinSamples      int     `json:"min_samples"`
	MaxOffsetMeters float64 `json:"max_offset_m"`
}

// DefaultConfig returns the standard calibration limits
func DefaultConfig() Config {
	return Config{
		MinSamples:      5,
		MaxOffsetMeters: 500,
	}
}

// Store keeps calibration records in memory and writes through to a Backend
type Store struct {
	mu      sync.RWMutex
	records map[string]pkg.CalibrationRecord
	backend Backend
	config  Config
	logger  *logx.Logger
	now     func() time.Time
}

// NewStore creates a store; a nil backend keeps records in memory only
func NewStore(config Config, backend Backend, logger *logx.Logger) *Store {
	if config.MinSamples <= 0 {
		config.MinSamples = DefaultConfig().MinSamples
	}
	if config.MaxOffsetMeters <= 0 {
		config.MaxOffsetMeters = DefaultConfig().MaxOffsetMeters
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if logger == nil {
		logger = logx.Nop()
	}

	return &Store{
		records: make(map[string]pkg.CalibrationRecord),
		backend: backend,
		config:  config,
		logger:  logger.WithComponent("calibration"),
		now:     time.Now,
	}
}

// MinSamples returns the number of samples a record needs to be trusted
func (s *Store) MinSamples() int {
	return s.config.MinSamples
}

// Load reads all persisted records, replacing the in-memory view
func (s *Store) Load(ctx context.Context) error {
	records, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load calibrations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]pkg.CalibrationRecord, len(records))
	for _, r := range records {
		s.records[r.SiteID] = r
	}

	s.logger.Debug("calibrations loaded", "count", len(records))
	return nil
}

// Commit computes and stores the calibration for site from samples.
// Nothing is written unless every check passes.
func (s *Store) Commit(ctx context.Context, site pkg.AuthorizedSite, samples []pkg.LocationSample) (pkg.CalibrationRecord, error) {
	if len(samples) < s.config.MinSamples {
		return pkg.CalibrationRecord{}, fmt.Errorf("%w: got %d, need %d",
			pkg.ErrInsufficientSamples, len(samples), s.config.MinSamples)
	}

	record := s.compute(site, samples)
	if record.OffsetMeters > s.config.MaxOffsetMeters {
		return pkg.CalibrationRecord{}, fmt.Errorf("%w: %.0fm from %s exceeds %.0fm",
			pkg.ErrOffsetTooLarge, record.OffsetMeters, site.Name, s.config.MaxOffsetMeters)
	}

	if err := s.backend.Save(ctx, record); err != nil {
		return pkg.CalibrationRecord{}, fmt.Errorf("failed to persist calibration for %s: %w", site.ID, err)
	}

	s.mu.Lock()
	s.records[site.ID] = record
	s.mu.Unlock()

	s.logger.Info("calibration committed",
		"site", site.ID,
		"offset_m", record.OffsetMeters,
		"samples", record.SampleCount,
		"accuracy_slope", record.AccuracySlope,
	)
	return record, nil
}

// compute derives the bias record; the offset is the centroid's distance from the site center
func (s *Store) compute(site pkg.AuthorizedSite, samples []pkg.LocationSample) pkg.CalibrationRecord {
	points := make([]pkg.GeoPoint, len(samples))
	var accSum float64
	for i, sample := range samples {
		points[i] = sample.Point
		accSum += sample.AccuracyMeters
	}

	centroid, _ := geo.Centroid(points)
	record := pkg.CalibrationRecord{
		SiteID:             site.ID,
		OffsetMeters:       geo.DistanceMeters(centroid, site.Center),
		SampleCount:        len(samples),
		LastUpdatedMs:      s.now().UnixMilli(),
		Centroid:           centroid,
		MeanAccuracyMeters: accSum / float64(len(samples)),
	}

	if slope, r2, ok := fitAccuracyTrend(site.Center, samples); ok {
		record.AccuracySlope = slope
		record.FitR2 = r2
	}
	return record
}

// fitAccuracyTrend regresses each sample's distance from center on its reported accuracy.
// A strong positive slope means the bias is mostly noise rather than a stable offset.
func fitAccuracyTrend(center pkg.GeoPoint, samples []pkg.LocationSample) (float64, float64, bool) {
	if len(samples) < 3 {
		return 0, 0, false
	}

	minAcc, maxAcc := math.Inf(1), math.Inf(-1)
	for _, sample := range samples {
		minAcc = math.Min(minAcc, sample.AccuracyMeters)
		maxAcc = math.Max(maxAcc, sample.AccuracyMeters)
	}
	if maxAcc-minAcc < 1e-9 {
		return 0, 0, false
	}

	var r regression.Regression
	r.SetObserved("distance_m")
	r.SetVar(0, "accuracy_m")
	for _, sample := range samples {
		r.Train(regression.DataPoint(geo.DistanceMeters(sample.Point, center), []float64{sample.AccuracyMeters}))
	}
	if err := r.Run(); err != nil {
		return 0, 0, false
	}

	slope := r.Coeff(1)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, 0, false
	}
	r2 := r.R2
	if math.IsNaN(r2) {
		r2 = 0
	}
	return slope, r2, true
}

// Get returns the record for siteID, trusted or not
func (s *Store) Get(siteID string) (pkg.CalibrationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[siteID]
	return r, ok
}

// Trusted reports whether the record has enough samples to be applied
func (s *Store) Trusted(record pkg.CalibrationRecord) bool {
	return record.SampleCount >= s.config.MinSamples
}

// Clear removes the record for siteID, or every record for pkg.AllSites
func (s *Store) Clear(ctx context.Context, siteID string) error {
	if siteID == pkg.AllSites {
		if err := s.backend.DeleteAll(ctx); err != nil {
			return fmt.Errorf("failed to clear calibrations: %w", err)
		}
		s.mu.Lock()
		s.records = make(map[string]pkg.CalibrationRecord)
		s.mu.Unlock()
		s.logger.Info("all calibrations cleared")
		return nil
	}

	if err := s.backend.Delete(ctx, siteID); err != nil {
		return fmt.Errorf("failed to clear calibration for %s: %w", siteID, err)
	}
	s.mu.Lock()
	delete(s.records, siteID)
	s.mu.Unlock()
	s.logger.Info("calibration cleared", "site", siteID)
	return nil
}

// Count returns the number of stored records
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns an immutable copy of the current records
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.records))
	for id, r := range s.records {
		snap[id] = r
	}
	return snap
}

// Snapshot is a point-in-time view of calibration records
type Snapshot map[string]pkg.CalibrationRecord

// Get returns the record for siteID
func (s Snapshot) Get(siteID string) (pkg.CalibrationRecord, bool) {
	r, ok := s[siteID]
	return r, ok
}

// Records returns the records sorted by site id
func (s Snapshot) Records() []pkg.CalibrationRecord {
	out := make([]pkg.CalibrationRecord, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiteID < out[j].SiteID })
	return out
}
