// Package cache provides the short-lived validation cache and the request debouncer
package cache

import (
	"sync"
	"time"

	"github.com/sitegate/sitegate/pkg"
)

// Entry is a cached validation and the sample it came from
type Entry struct {
	Result   pkg.ValidationResult `json:"result"`
	Sample   pkg.LocationSample   `json:"sample"`
	StoredAt time.Time            `json:"stored_at"`
}

// ResultCache holds the most recent successful validation for a short TTL
type ResultCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	entry *Entry
}

// NewResultCache creates a cache; now may be nil
func NewResultCache(ttl time.Duration, now func() time.Time) *ResultCache {
	if now == nil {
		now = time.Now
	}
	return &ResultCache{ttl: ttl, now: now}
}

// Get returns the cached entry while it is within TTL
func (c *ResultCache) Get() (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil || c.now().Sub(c.entry.StoredAt) >= c.ttl {
		return Entry{}, false
	}
	return *c.entry, true
}

// Valid reports whether Get would hit
func (c *ResultCache) Valid() bool {
	_, ok := c.Get()
	return ok
}

// Put stores a validation; failed cycles must not call Put
func (c *ResultCache) Put(result pkg.ValidationResult, sample pkg.LocationSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &Entry{Result: result, Sample: sample, StoredAt: c.now()}
}

// Clear forces the next read to miss
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}
