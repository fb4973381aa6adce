package session

import (
	"time"

	"github.com/sitegate/sitegate/pkg"
)

// DebugSnapshot is a read-only diagnostic view of a controller
type DebugSnapshot struct {
	SessionID        string                  `json:"session_id"`
	Environment      string                  `json:"environment"`
	Phase            pkg.Phase               `json:"phase"`
	CacheValid       bool                    `json:"cache_valid"`
	CachedAt         *time.Time              `json:"cached_at,omitempty"`
	CalibrationCount int                     `json:"calibration_count"`
	TrustedCount     int                     `json:"trusted_count"`
	Calibrations     []pkg.CalibrationRecord `json:"calibrations"`
	LastRegistration *pkg.Registration       `json:"last_registration"`
	Closed           bool                    `json:"closed"`
}

// Debug returns the current diagnostic snapshot
func (c *Controller) Debug() DebugSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := DebugSnapshot{
		SessionID:    c.sessionID,
		Environment:  c.config.Environment,
		Phase:        c.state.Phase,
		Calibrations: c.deps.Store.Snapshot().Records(),
		Closed:       c.closed,
	}
	snap.CalibrationCount = len(snap.Calibrations)
	for _, r := range snap.Calibrations {
		if c.deps.Store.Trusted(r) {
			snap.TrustedCount++
		}
	}

	if entry, ok := c.cache.Get(); ok {
		snap.CacheValid = true
		at := entry.StoredAt
		snap.CachedAt = &at
	}
	if c.registration != nil {
		reg := *c.registration
		snap.LastRegistration = &reg
	}
	return snap
}
