// Package sites supplies the authorized site list with long-interval refresh
package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/logx"
)

// Source returns the current authorized sites
type Source interface {
	Sites(ctx context.Context) ([]pkg.AuthorizedSite, error)
}

// Static is a fixed site list
type Static []pkg.AuthorizedSite

// Sites implements Source
func (s Static) Sites(ctx context.Context) ([]pkg.AuthorizedSite, error) {
	out := make([]pkg.AuthorizedSite, len(s))
	copy(out, s)
	return out, nil
}

// FileLoader reads a JSON array of sites from disk
type FileLoader struct {
	Path string
}

// Sites implements Source
func (f FileLoader) Sites(ctx context.Context) ([]pkg.AuthorizedSite, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file: %w", err)
	}

	var list []pkg.AuthorizedSite
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse sites file: %w", err)
	}
	for i, s := range list {
		if err := Check(s); err != nil {
			return nil, fmt.Errorf("site %d: %w", i, err)
		}
	}
	return list, nil
}

// Check rejects a site the engine cannot address or validate against.
// pkg.AllSites is reserved for clearing every calibration record.
func Check(s pkg.AuthorizedSite) error {
	switch {
	case s.ID == "":
		return fmt.Errorf("site has no id")
	case s.ID == pkg.AllSites:
		return fmt.Errorf("site id %q is reserved", s.ID)
	case s.BaseRadiusMeters <= 0:
		return fmt.Errorf("site %s: radius_m must be positive", s.ID)
	}
	return nil
}

// CachedSource refreshes from an upstream Source at most once per interval
// and keeps serving the last good list when a refresh fails.
type CachedSource struct {
	upstream Source
	interval time.Duration
	logger   *logx.Logger
	now      func() time.Time

	mu        sync.Mutex
	sites     []pkg.AuthorizedSite
	fetchedAt time.Time
	loaded    bool
}

// NewCachedSource wraps upstream with a refresh interval
func NewCachedSource(upstream Source, interval time.Duration, logger *logx.Logger) *CachedSource {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &CachedSource{
		upstream: upstream,
		interval: interval,
		logger:   logger.WithComponent("sites"),
		now:      time.Now,
	}
}

// Sites implements Source
func (c *CachedSource) Sites(ctx context.Context) ([]pkg.AuthorizedSite, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && c.now().Sub(c.fetchedAt) < c.interval {
		return c.copyLocked(), nil
	}

	fresh, err := c.upstream.Sites(ctx)
	if err != nil {
		if c.loaded {
			c.logger.Warn("site refresh failed, serving cached list", "error", err, "count", len(c.sites))
			return c.copyLocked(), nil
		}
		return nil, err
	}

	c.sites = fresh
	c.fetchedAt = c.now()
	c.loaded = true
	c.logger.Debug("sites refreshed", "count", len(fresh))
	return c.copyLocked(), nil
}

// Invalidate forces the next call to refresh
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

func (c *CachedSource) copyLocked() []pkg.AuthorizedSite {
	out := make([]pkg.AuthorizedSite, len(c.sites))
	copy(out, c.sites)
	return out
}

// Find returns the site with id from list
func Find(list []pkg.AuthorizedSite, id string) (pkg.AuthorizedSite, error) {
	for _, s := range list {
		if s.ID == id {
			return s, nil
		}
	}
	return pkg.AuthorizedSite{}, fmt.Errorf("%w: %s", pkg.ErrSiteNotFound, id)
}
