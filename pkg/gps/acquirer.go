// Package gps acquires location samples from device and network sources
package gps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/logx"
)

// AcquirerConfig controls location requests
type AcquirerConfig struct {
	HighAccuracy bool          `json:"high_accuracy"`
	Timeout      time.Duration `json:"timeout"`
	MaxCachedAge time.Duration `json:"max_cached_age"`
}

// DefaultAcquirerConfig returns the standard request options
func DefaultAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaxCachedAge: 5 * time.Second,
	}
}

// Acquirer wraps a LocationProvider with hard timeouts.
// Every call is a single bounded attempt; retries belong to the caller.
type Acquirer struct {
	provider pkg.LocationProvider
	config   AcquirerConfig
	logger   *logx.Logger
}

// NewAcquirer creates an acquirer for provider
func NewAcquirer(provider pkg.LocationProvider, config AcquirerConfig, logger *logx.Logger) *Acquirer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultAcquirerConfig().Timeout
	}
	if config.MaxCachedAge < 0 {
		config.MaxCachedAge = 0
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Acquirer{
		provider: provider,
		config:   config,
		logger:   logger.WithComponent("acquirer"),
	}
}

// AcquireOnce requests one fix, failing with ErrLocationUnavailable after timeout
func (a *Acquirer) AcquireOnce(ctx context.Context, timeout time.Duration) (pkg.LocationSample, error) {
	return a.acquire(ctx, timeout, a.config.MaxCachedAge)
}

func (a *Acquirer) acquire(ctx context.Context, timeout, maxAge time.Duration) (pkg.LocationSample, error) {
	if timeout <= 0 {
		timeout = a.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := pkg.LocationRequest{
		HighAccuracy: a.config.HighAccuracy,
		Timeout:      timeout,
		MaxCachedAge: maxAge,
	}

	type result struct {
		sample pkg.LocationSample
		err    error
	}
	// buffered: the sender never blocks once we stop listening
	ch := make(chan result, 1)
	go func() {
		s, err := a.provider.CurrentLocation(ctx, req)
		ch <- result{s, err}
	}()

	start := time.Now()
	select {
	case <-ctx.Done():
		a.logger.Warn("location request timed out", "timeout", timeout.String(), "error", ctx.Err())
		return pkg.LocationSample{}, fmt.Errorf("%w: %v", pkg.ErrLocationUnavailable, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			a.logger.Warn("location request failed", "error", r.err, "elapsed", time.Since(start).String())
			if errors.Is(r.err, pkg.ErrLocationUnavailable) {
				return pkg.LocationSample{}, r.err
			}
			return pkg.LocationSample{}, fmt.Errorf("%w: %v", pkg.ErrLocationUnavailable, r.err)
		}
		if err := ValidateSample(r.sample); err != nil {
			a.logger.Warn("provider returned an unusable fix", "error", err)
			return pkg.LocationSample{}, fmt.Errorf("%w: %v", pkg.ErrLocationUnavailable, err)
		}
		a.logger.Debug("location acquired",
			"latitude", r.sample.Point.Latitude,
			"longitude", r.sample.Point.Longitude,
			"accuracy_m", r.sample.AccuracyMeters,
			"source", r.sample.Source,
		)
		return r.sample, nil
	}
}

// AcquireBestOf requests up to n fresh fixes within window and returns the most accurate.
// Individual failures are tolerated as long as one fix succeeds.
func (a *Acquirer) AcquireBestOf(ctx context.Context, n int, window time.Duration) (pkg.LocationSample, error) {
	if n <= 0 {
		n = 1
	}
	if window <= 0 {
		window = a.config.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var (
		best    pkg.LocationSample
		found   bool
		lastErr error
	)
	for i := 0; i < n; i++ {
		deadline, _ := ctx.Deadline()
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		timeout := a.config.Timeout
		if remaining < timeout {
			timeout = remaining
		}

		sample, err := a.acquire(ctx, timeout, 0)
		if err != nil {
			lastErr = err
			continue
		}
		if !found || sample.AccuracyMeters < best.AccuracyMeters {
			best = sample
			found = true
		}
	}

	if !found {
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: no fix within %s", pkg.ErrLocationUnavailable, window)
		}
		return pkg.LocationSample{}, lastErr
	}
	return best, nil
}
