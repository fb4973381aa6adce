// Package telem keeps a bounded in-memory journal of engine events
package telem

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sitegate/sitegate/pkg"
)

// Config for the event journal
type Config struct {
	MaxEvents      int `json:"max_events"`
	RetentionHours int `json:"retention_hours"`
}

// Journal stores recent events with bounded size and retention.
// It implements pkg.EventSink.
type Journal struct {
	mu            sync.RWMutex
	events        []pkg.Event
	maxEvents     int
	retentionTime time.Duration
	now           func() time.Time
}

// NewJournal creates a journal with the given configuration
func NewJournal(config Config) *Journal {
	if config.MaxEvents <= 0 {
		config.MaxEvents = 500
	}
	if config.RetentionHours <= 0 {
		config.RetentionHours = 24
	}

	return &Journal{
		events:        make([]pkg.Event, 0, config.MaxEvents),
		maxEvents:     config.MaxEvents,
		retentionTime: time.Duration(config.RetentionHours) * time.Hour,
		now:           time.Now,
	}
}

// Publish implements pkg.EventSink
func (j *Journal) Publish(ctx context.Context, event pkg.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, event)

	// Keep the most recent events
	if len(j.events) > j.maxEvents {
		copy(j.events, j.events[len(j.events)-j.maxEvents:])
		j.events = j.events[:j.maxEvents]
	}

	j.cleanOldEventsLocked()
	return nil
}

// Events returns up to limit of the most recent events, oldest first
func (j *Journal) Events(limit int) []pkg.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(j.events) {
		start = len(j.events) - limit
	}
	result := make([]pkg.Event, len(j.events)-start)
	copy(result, j.events[start:])
	return result
}

// CountByType returns the number of retained events per type
func (j *Journal) CountByType() map[string]int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range j.events {
		counts[e.Type]++
	}
	return counts
}

// Cleanup removes events older than the retention time
func (j *Journal) Cleanup() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleanOldEventsLocked()
}

func (j *Journal) cleanOldEventsLocked() {
	cutoff := j.now().Add(-j.retentionTime)

	keepIndex := 0
	for i, event := range j.events {
		if event.Timestamp.After(cutoff) {
			keepIndex = i
			break
		}
		keepIndex = i + 1
	}

	if keepIndex > 0 {
		copy(j.events, j.events[keepIndex:])
		j.events = j.events[:len(j.events)-keepIndex]
	}
}

// ServeHTTP writes recent events as JSON; ?limit=N bounds the count
func (j *Journal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(j.Events(limit))
}

// Fanout delivers every event to all sinks and joins their errors
type Fanout []pkg.EventSink

// Publish implements pkg.EventSink
func (f Fanout) Publish(ctx context.Context, event pkg.Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
