// Package metrics exposes Prometheus metrics for the validation engine
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitegate/sitegate/pkg/logx"
)

// Recorder holds the engine metrics on its own registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	validations         *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	debounceJoins       prometheus.Counter
	acquisitions        *prometheus.CounterVec
	acquisitionDuration prometheus.Histogram
	fixAccuracy         prometheus.Histogram
	calibrations        *prometheus.CounterVec
	calibrationRecords  prometheus.Gauge
	relocations         prometheus.Counter
}

// NewRecorder creates a recorder and registers all metrics
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.registerMetrics()
	return r
}

// registerMetrics registers all Prometheus metrics
func (r *Recorder) registerMetrics() {
	r.validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_validations_total",
			Help: "Total number of completed validation cycles",
		},
		[]string{"result", "tier"},
	)

	r.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_cache_lookups_total",
			Help: "Result cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	r.debounceJoins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitegate_debounce_joins_total",
			Help: "Validation requests served by an in-flight or recent cycle",
		},
	)

	r.acquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_acquisitions_total",
			Help: "Location acquisitions by outcome",
		},
		[]string{"outcome"},
	)

	r.acquisitionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitegate_acquisition_duration_seconds",
			Help:    "Time spent waiting for a location fix",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	r.fixAccuracy = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitegate_fix_accuracy_meters",
			Help:    "Reported accuracy of acquired fixes",
			Buckets: []float64{5, 10, 15, 30, 50, 100, 250, 1000},
		},
	)

	r.calibrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_calibrations_total",
			Help: "Calibration runs by outcome",
		},
		[]string{"outcome"},
	)

	r.calibrationRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitegate_calibration_records",
			Help: "Number of stored calibration records",
		},
	)

	r.relocations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitegate_relocations_total",
			Help: "Validations at a different site than the last registration",
		},
	)

	r.registry.MustRegister(
		r.validations,
		r.cacheLookups,
		r.debounceJoins,
		r.acquisitions,
		r.acquisitionDuration,
		r.fixAccuracy,
		r.calibrations,
		r.calibrationRecords,
		r.relocations,
	)
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordValidation records a completed validation cycle
func (r *Recorder) RecordValidation(valid bool, tier string) {
	if r == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	r.validations.With(prometheus.Labels{"result": result, "tier": tier}).Inc()
}

// RecordCacheLookup records a cache hit or miss
func (r *Recorder) RecordCacheLookup(hit bool) {
	if r == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.cacheLookups.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordDebounceJoin records a request that shared another cycle's result
func (r *Recorder) RecordDebounceJoin() {
	if r == nil {
		return
	}
	r.debounceJoins.Inc()
}

// RecordAcquisition records one location acquisition
func (r *Recorder) RecordAcquisition(d time.Duration, accuracy float64, err error) {
	if r == nil {
		return
	}
	r.acquisitionDuration.Observe(d.Seconds())
	if err != nil {
		r.acquisitions.With(prometheus.Labels{"outcome": "error"}).Inc()
		return
	}
	r.acquisitions.With(prometheus.Labels{"outcome": "ok"}).Inc()
	r.fixAccuracy.Observe(accuracy)
}

// RecordCalibration records a calibration run outcome
func (r *Recorder) RecordCalibration(outcome string) {
	if r == nil {
		return
	}
	r.calibrations.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// SetCalibrationRecords sets the stored record count
func (r *Recorder) SetCalibrationRecords(n int) {
	if r == nil {
		return
	}
	r.calibrationRecords.Set(float64(n))
}

// RecordRelocation records a detected site change
func (r *Recorder) RecordRelocation() {
	if r == nil {
		return
	}
	r.relocations.Inc()
}

// Server serves the recorder over HTTP
type Server struct {
	recorder *Recorder
	logger   *logx.Logger
	server   *http.Server
	started  time.Time
	mounts   map[string]http.Handler
}

// NewServer creates a new metrics server
func NewServer(recorder *Recorder, logger *logx.Logger) *Server {
	if logger == nil {
		logger = logx.Nop()
	}
	return &Server{
		recorder: recorder,
		logger:   logger.WithComponent("metrics"),
		mounts:   make(map[string]http.Handler),
	}
}

// Mount serves h at pattern next to /metrics; call before Start
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mounts[pattern] = h
}

// Handler returns the HTTP handler with /metrics and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.recorder.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.healthHandler)
	for pattern, h := range s.mounts {
		mux.Handle(pattern, h)
	}
	return mux
}

// Start starts the metrics server
func (s *Server) Start(listener string, port int) error {
	if s.recorder == nil {
		return fmt.Errorf("metrics server requires a recorder")
	}

	s.logger.Info("Starting metrics server", "listener", listener, "port", port)

	s.started = time.Now()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", listener, port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info("Stopping metrics server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s","uptime_s":%d}`,
		time.Now().Format(time.RFC3339), int(time.Since(s.started).Seconds()))
}
