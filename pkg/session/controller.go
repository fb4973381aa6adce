// Package session owns the per-surface validation state machine
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/cache"
	"github.com/sitegate/sitegate/pkg/calibration"
	"github.com/sitegate/sitegate/pkg/geo"
	"github.com/sitegate/sitegate/pkg/gps"
	"github.com/sitegate/sitegate/pkg/logx"
	"github.com/sitegate/sitegate/pkg/metrics"
	"github.com/sitegate/sitegate/pkg/relocation"
	"github.com/sitegate/sitegate/pkg/retry"
	"github.com/sitegate/sitegate/pkg/sites"
	"github.com/sitegate/sitegate/pkg/validator"
)

// Config holds the controller timing and sampling parameters
type Config struct {
	Environment        string        `json:"environment"`
	Debounce           time.Duration `json:"debounce"`
	CacheTTL           time.Duration `json:"cache_ttl"`
	AcquireTimeout     time.Duration `json:"acquire_timeout"`
	CalibrationSamples int           `json:"calibration_samples"`
	BestOfN            int           `json:"best_of_n"`
	BestOfWindow       time.Duration `json:"best_of_window"`
	Retry              retry.Config  `json:"retry"`
}

// DefaultConfig returns the standard controller parameters
func DefaultConfig() Config {
	return Config{
		Environment:        pkg.EnvNative,
		Debounce:           2 * time.Second,
		CacheTTL:           30 * time.Second,
		AcquireTimeout:     10 * time.Second,
		CalibrationSamples: 6,
		BestOfN:            3,
		BestOfWindow:       6 * time.Second,
		Retry:              retry.DefaultConfig(),
	}
}

// Dependencies are the collaborators a controller orchestrates
type Dependencies struct {
	Acquirer  *gps.Acquirer
	Store     *calibration.Store
	Sites     sites.Source
	Validator *validator.Validator
}

// Option customizes a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *logx.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records controller activity on r
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Controller) { c.metrics = r }
}

// WithEventSink publishes engine events to sink
func WithEventSink(sink pkg.EventSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithStateListener is called with a copy of the state after every change
func WithStateListener(fn func(pkg.SessionState)) Option {
	return func(c *Controller) { c.listener = fn }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSessionID sets the id stamped on events
func WithSessionID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.sessionID = id
		}
	}
}

type cycle struct {
	result pkg.ValidationResult
	sample *pkg.LocationSample
}

// Controller exposes one UI surface's location state and the commands that
// change it. Validation cycles are debounced and cached; at most one
// calibration runs at a time and validation is rejected while it does.
type Controller struct {
	config    Config
	deps      Dependencies
	logger    *logx.Logger
	metrics   *metrics.Recorder
	sink      pkg.EventSink
	listener  func(pkg.SessionState)
	now       func() time.Time
	sessionID string

	cache     *cache.ResultCache
	debouncer *cache.Debouncer[cycle]
	runner    *retry.Runner

	mu           sync.Mutex
	state        pkg.SessionState
	requestID    uint64
	calibrating  bool
	closed       bool
	registration *pkg.Registration
}

// NewController creates a controller in the Idle phase
func NewController(config Config, deps Dependencies, opts ...Option) (*Controller, error) {
	if deps.Acquirer == nil || deps.Store == nil || deps.Sites == nil {
		return nil, fmt.Errorf("acquirer, calibration store and site source are required")
	}
	if deps.Validator == nil {
		deps.Validator = validator.New(validator.DefaultConfig())
	}
	defaults := DefaultConfig()
	if config.Environment == "" {
		config.Environment = defaults.Environment
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = defaults.AcquireTimeout
	}
	if config.CalibrationSamples <= 0 {
		config.CalibrationSamples = defaults.CalibrationSamples
	}
	if config.BestOfN <= 0 {
		config.BestOfN = defaults.BestOfN
	}
	if config.BestOfWindow <= 0 {
		config.BestOfWindow = defaults.BestOfWindow
	}

	c := &Controller{
		config:    config,
		deps:      deps,
		logger:    logx.Nop(),
		now:       time.Now,
		sessionID: uuid.NewString(),
		state:     pkg.SessionState{Phase: pkg.PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("session")
	c.cache = cache.NewResultCache(config.CacheTTL, c.now)
	c.debouncer = cache.NewDebouncer[cycle](config.Debounce, c.now)
	c.runner = retry.NewRunner(config.Retry, isRetryable)

	c.metrics.SetCalibrationRecords(deps.Store.Count())
	return c, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, pkg.ErrLocationUnavailable)
}

// SessionID returns the id stamped on published events
func (c *Controller) SessionID() string {
	return c.sessionID
}

// State returns a copy of the current session state
func (c *Controller) State() pkg.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() pkg.SessionState {
	s := c.state
	if s.Sample != nil {
		sample := *s.Sample
		s.Sample = &sample
	}
	if s.Result != nil {
		result := *s.Result
		if result.ClosestSite != nil {
			site := *result.ClosestSite
			result.ClosestSite = &site
		}
		s.Result = &result
	}
	return s
}

// update applies fn under the lock and notifies the listener when fn reports a change
func (c *Controller) update(fn func(s *pkg.SessionState) bool) {
	c.mu.Lock()
	if !fn(&c.state) {
		c.mu.Unlock()
		return
	}
	snapshot := c.snapshotLocked()
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(snapshot)
	}
}

// supersedeLocked discards any in-flight validation cycle
func (c *Controller) supersedeLocked() {
	c.requestID++
	if c.state.Loading || c.state.Validating {
		c.state.Loading = false
		c.state.Validating = false
		if !c.calibrating {
			c.state.Phase = pkg.PhaseIdle
		}
	}
}

// SetLastRegistration supplies the last successful registration of the work-day
// and restamps the current result's location change against it
func (c *Controller) SetLastRegistration(reg *pkg.Registration) {
	c.debouncer.Forget()
	c.update(func(s *pkg.SessionState) bool {
		c.registration = nil
		if reg != nil {
			r := *reg
			c.registration = &r
		}
		if s.Result == nil {
			return false
		}
		result, _ := relocation.Apply(*s.Result, c.registration)
		s.Result = &result
		return true
	})
}

// ValidateLocation returns the cached verdict if fresh, otherwise runs or joins
// a debounced acquire and validate cycle
func (c *Controller) ValidateLocation(ctx context.Context) (pkg.ValidationResult, error) {
	return c.validate(ctx, false)
}

// RefreshLocation bypasses the result cache and re-runs validation
func (c *Controller) RefreshLocation(ctx context.Context) (pkg.ValidationResult, error) {
	c.debouncer.Forget()
	return c.validate(ctx, true)
}

func (c *Controller) validate(ctx context.Context, bypassCache bool) (pkg.ValidationResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return pkg.ValidationResult{}, pkg.ErrClosed
	}
	if c.calibrating {
		c.mu.Unlock()
		c.update(func(s *pkg.SessionState) bool {
			s.Error = pkg.UserMessage(pkg.ErrCalibrationInProgress)
			return true
		})
		return pkg.ValidationResult{}, pkg.ErrCalibrationInProgress
	}
	if !bypassCache {
		if entry, ok := c.cache.Get(); ok {
			entry.Result, _ = relocation.Apply(entry.Result, c.registration)
			c.mu.Unlock()
			c.metrics.RecordCacheLookup(true)
			c.serveCached(entry)
			return entry.Result, nil
		}
	}
	id := c.requestID
	c.mu.Unlock()

	if !bypassCache {
		c.metrics.RecordCacheLookup(false)
	}

	out, shared, err := c.debouncer.Do(func() (cycle, error) {
		return c.runCycle(ctx, id)
	})
	if shared {
		c.metrics.RecordDebounceJoin()
	}
	if err != nil {
		return pkg.ValidationResult{}, err
	}

	c.mu.Lock()
	result, _ := relocation.Apply(out.result, c.registration)
	c.mu.Unlock()
	return result, nil
}

func (c *Controller) serveCached(entry cache.Entry) {
	c.update(func(s *pkg.SessionState) bool {
		result, sample := entry.Result, entry.Sample
		s.Result = &result
		s.Sample = &sample
		s.Phase = pkg.PhaseReady
		s.Loading = false
		s.Validating = false
		s.Error = ""
		return true
	})
}

// runCycle performs one acquire and validate cycle tagged with request id
func (c *Controller) runCycle(ctx context.Context, id uint64) (cycle, error) {
	c.update(func(s *pkg.SessionState) bool {
		if c.requestID != id {
			return false
		}
		s.Phase = pkg.PhaseLoading
		s.Loading = true
		s.Validating = true
		s.Error = ""
		return true
	})

	siteList, err := c.deps.Sites.Sites(ctx)
	if err != nil {
		return c.failCycle(ctx, id, fmt.Errorf("failed to load sites: %w", err))
	}

	if !hasActiveSite(siteList) {
		result := c.deps.Validator.Validate(pkg.LocationSample{}, nil, nil)
		return c.finishCycle(ctx, id, result, nil, relocation.Change{})
	}

	var sample pkg.LocationSample
	err = c.runner.Do(ctx, func(ctx context.Context) error {
		start := c.now()
		s, err := c.deps.Acquirer.AcquireOnce(ctx, c.config.AcquireTimeout)
		c.metrics.RecordAcquisition(c.now().Sub(start), s.AccuracyMeters, err)
		if err != nil {
			return err
		}
		sample = s
		return nil
	})
	if err != nil {
		return c.failCycle(ctx, id, err)
	}

	c.update(func(s *pkg.SessionState) bool {
		if c.requestID != id {
			return false
		}
		acquired := sample
		s.Sample = &acquired
		s.Phase = pkg.PhaseValidating
		s.Loading = false
		return true
	})

	result := c.deps.Validator.Validate(sample, siteList, c.deps.Store.Snapshot())

	c.mu.Lock()
	prev := c.registration
	c.mu.Unlock()
	result, change := relocation.Apply(result, prev)

	return c.finishCycle(ctx, id, result, &sample, change)
}

func hasActiveSite(list []pkg.AuthorizedSite) bool {
	for _, s := range list {
		if s.Active {
			return true
		}
	}
	return false
}

// finishCycle publishes a result unless a newer request superseded it
func (c *Controller) finishCycle(ctx context.Context, id uint64, result pkg.ValidationResult, sample *pkg.LocationSample, change relocation.Change) (cycle, error) {
	c.mu.Lock()
	if c.requestID != id || c.closed {
		c.mu.Unlock()
		c.logger.Debug("discarding stale validation", "request_id", id)
		return cycle{}, pkg.ErrSuperseded
	}
	if sample != nil {
		c.cache.Put(result, *sample)
	}
	stored := result
	c.state.Result = &stored
	if sample != nil {
		s := *sample
		c.state.Sample = &s
	}
	c.state.Phase = pkg.PhaseReady
	c.state.Loading = false
	c.state.Validating = false
	c.state.Error = ""
	snapshot := c.snapshotLocked()
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(snapshot)
	}

	c.metrics.RecordValidation(result.Valid, result.QualityTier.String())
	c.logger.Info("location validated",
		"valid", result.Valid,
		"distance_m", result.DistanceMeters,
		"radius_m", result.AdaptiveRadiusMeters,
		"tier", result.QualityTier.String(),
		"calibration_applied", result.CalibrationApplied,
	)

	siteID := ""
	if result.ClosestSite != nil {
		siteID = result.ClosestSite.ID
	}
	c.publish(ctx, pkg.EventValidation, siteID, result.Message, map[string]interface{}{
		"valid":       result.Valid,
		"distance_m":  result.DistanceMeters,
		"radius_m":    result.AdaptiveRadiusMeters,
		"tier":        result.QualityTier.String(),
		"confidence":  result.ConfidencePercent,
		"calibrated":  result.CalibrationApplied,
		"recommended": result.CalibrationRecommended,
	})
	if change.Changed {
		c.metrics.RecordRelocation()
		c.publish(ctx, pkg.EventRelocation, siteID,
			fmt.Sprintf("moved from %s to %s", change.PreviousSiteName, result.ClosestSite.Name), nil)
	}

	return cycle{result: result, sample: sample}, nil
}

// failCycle surfaces err unless a cached result can still be served
func (c *Controller) failCycle(ctx context.Context, id uint64, err error) (cycle, error) {
	c.logger.Warn("validation cycle failed", "error", err)
	c.publish(ctx, pkg.EventError, "", err.Error(), nil)

	c.mu.Lock()
	if c.requestID != id || c.closed {
		c.mu.Unlock()
		return cycle{}, pkg.ErrSuperseded
	}
	c.mu.Unlock()

	if entry, ok := c.cache.Get(); ok {
		c.serveCached(entry)
		sample := entry.Sample
		return cycle{result: entry.Result, sample: &sample}, nil
	}

	c.update(func(s *pkg.SessionState) bool {
		if c.requestID != id {
			return false
		}
		s.Phase = pkg.PhaseError
		s.Loading = false
		s.Validating = false
		s.Error = pkg.UserMessage(err)
		return true
	})
	return cycle{}, err
}

// CalibrateForCurrentLocation samples the current position and commits a
// calibration for the closest active site. A failed run leaves any existing
// record for that site untouched.
func (c *Controller) CalibrateForCurrentLocation(ctx context.Context) (pkg.CalibrationRecord, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return pkg.CalibrationRecord{}, pkg.ErrClosed
	}
	if c.calibrating {
		c.mu.Unlock()
		return pkg.CalibrationRecord{}, pkg.ErrCalibrationInProgress
	}
	c.calibrating = true
	c.supersedeLocked()
	c.mu.Unlock()
	c.debouncer.Reset()

	c.update(func(s *pkg.SessionState) bool {
		s.Phase = pkg.PhaseCalibrating
		s.Calibrating = true
		s.CalibrationProgressPercent = 0
		s.Error = ""
		return true
	})

	record, err := c.calibrate(ctx)
	if err != nil {
		c.metrics.RecordCalibration(calibrationOutcome(err))
		c.logger.Warn("calibration failed", "error", err)
		c.publish(ctx, pkg.EventError, "", err.Error(), nil)
		c.update(func(s *pkg.SessionState) bool {
			c.calibrating = false
			if c.closed {
				return false
			}
			s.Phase = pkg.PhaseError
			s.Calibrating = false
			s.Error = pkg.UserMessage(err)
			return true
		})
		return pkg.CalibrationRecord{}, err
	}

	c.mu.Lock()
	c.cache.Clear()
	c.mu.Unlock()
	c.debouncer.Reset()

	c.metrics.RecordCalibration("committed")
	c.metrics.SetCalibrationRecords(c.deps.Store.Count())
	c.publish(ctx, pkg.EventCalibration, record.SiteID,
		fmt.Sprintf("calibrated with offset %.1fm", record.OffsetMeters),
		map[string]interface{}{
			"offset_m":     record.OffsetMeters,
			"sample_count": record.SampleCount,
			"accuracy_m":   record.MeanAccuracyMeters,
		})

	c.update(func(s *pkg.SessionState) bool {
		c.calibrating = false
		if c.closed {
			return false
		}
		s.Phase = pkg.PhaseReady
		s.Calibrating = false
		s.CalibrationProgressPercent = 100
		s.Error = ""
		return true
	})
	return record, nil
}

func (c *Controller) calibrate(ctx context.Context) (pkg.CalibrationRecord, error) {
	siteList, err := c.deps.Sites.Sites(ctx)
	if err != nil {
		return pkg.CalibrationRecord{}, fmt.Errorf("failed to load sites: %w", err)
	}
	if !hasActiveSite(siteList) {
		return pkg.CalibrationRecord{}, pkg.ErrNoAuthorizedSites
	}

	target := c.config.CalibrationSamples
	batch := calibration.NewBatch(target)
	for i := 0; i < target; i++ {
		if err := ctx.Err(); err != nil {
			return pkg.CalibrationRecord{}, err
		}

		start := c.now()
		sample, err := c.deps.Acquirer.AcquireBestOf(ctx, c.config.BestOfN, c.config.BestOfWindow)
		c.metrics.RecordAcquisition(c.now().Sub(start), sample.AccuracyMeters, err)
		if err != nil {
			c.logger.Debug("calibration sample failed", "attempt", i+1, "error", err)
		} else {
			batch.Record(sample)
		}

		progress := batch.Progress(i + 1)
		c.update(func(s *pkg.SessionState) bool {
			if c.closed {
				return false
			}
			s.CalibrationProgressPercent = progress
			return true
		})
	}

	if batch.Len() < c.deps.Store.MinSamples() {
		return pkg.CalibrationRecord{}, fmt.Errorf("%w: got %d of %d", pkg.ErrInsufficientSamples, batch.Len(), c.deps.Store.MinSamples())
	}

	centroid, _ := geo.Centroid(batch.Points())
	site, distance, err := validator.ClosestActiveSite(centroid, siteList)
	if err != nil {
		return pkg.CalibrationRecord{}, err
	}
	c.logger.Debug("calibration batch complete", "samples", batch.Len(), "site", site.ID, "centroid_distance_m", distance)

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return pkg.CalibrationRecord{}, pkg.ErrClosed
	}

	return c.deps.Store.Commit(ctx, site, batch.Samples())
}

func calibrationOutcome(err error) string {
	switch {
	case errors.Is(err, pkg.ErrInsufficientSamples):
		return "insufficient_samples"
	case errors.Is(err, pkg.ErrOffsetTooLarge):
		return "offset_too_large"
	case errors.Is(err, pkg.ErrNoAuthorizedSites):
		return "no_sites"
	default:
		return "failed"
	}
}

// ClearCalibration removes one site's record, or every record for pkg.AllSites,
// and invalidates the cached verdict
func (c *Controller) ClearCalibration(ctx context.Context, siteID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return pkg.ErrClosed
	}
	if c.calibrating {
		c.mu.Unlock()
		return pkg.ErrCalibrationInProgress
	}
	c.mu.Unlock()

	if err := c.deps.Store.Clear(ctx, siteID); err != nil {
		return err
	}
	c.invalidate()

	c.metrics.SetCalibrationRecords(c.deps.Store.Count())
	target := siteID
	if siteID == pkg.AllSites {
		target = ""
	}
	c.publish(ctx, pkg.EventCalibrationCleared, target, "calibration cleared", map[string]interface{}{
		"scope": siteID,
	})
	return nil
}

// ClearCache forces the next validation to re-acquire
func (c *Controller) ClearCache() {
	c.invalidate()
}

func (c *Controller) invalidate() {
	c.debouncer.Reset()
	c.update(func(s *pkg.SessionState) bool {
		c.cache.Clear()
		c.supersedeLocked()
		return true
	})
}

// Close discards in-flight work; later calls fail with pkg.ErrClosed
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.requestID++
	c.cache.Clear()
	c.debouncer.Reset()
	c.logger.Debug("session closed", "session_id", c.sessionID)
	return nil
}

func (c *Controller) publish(ctx context.Context, eventType, siteID, message string, data map[string]interface{}) {
	if c.sink == nil {
		return
	}
	event := pkg.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: c.now(),
		SessionID: c.sessionID,
		SiteID:    siteID,
		Message:   message,
		Data:      data,
	}
	if err := c.sink.Publish(ctx, event); err != nil {
		c.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}
