package telem

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sitegate/sitegate/pkg"
)

func TestJournalKeepsMostRecent(t *testing.T) {
	j := NewJournal(Config{MaxEvents: 3})
	now := time.Now()
	for i := 0; i < 5; i++ {
		j.Publish(context.Background(), pkg.Event{ID: string(rune('a' + i)), Type: pkg.EventValidation, Timestamp: now})
	}

	events := j.Events(0)
	if len(events) != 3 {
		t.Fatalf("events = %d; want 3", len(events))
	}
	if events[0].ID != "c" || events[2].ID != "e" {
		t.Errorf("kept wrong events: %v %v", events[0].ID, events[2].ID)
	}
	if last := j.Events(1); len(last) != 1 || last[0].ID != "e" {
		t.Errorf("Events(1) = %+v", last)
	}
}

func TestJournalRetention(t *testing.T) {
	j := NewJournal(Config{RetentionHours: 1})
	now := time.Now()
	j.now = func() time.Time { return now }

	j.Publish(context.Background(), pkg.Event{Type: pkg.EventValidation, Timestamp: now.Add(-2 * time.Hour)})
	j.Publish(context.Background(), pkg.Event{Type: pkg.EventCalibration, Timestamp: now})

	counts := j.CountByType()
	if counts[pkg.EventValidation] != 0 || counts[pkg.EventCalibration] != 1 {
		t.Errorf("counts = %v", counts)
	}

	now = now.Add(2 * time.Hour)
	j.Cleanup()
	if len(j.Events(0)) != 0 {
		t.Error("cleanup should drop expired events")
	}
}

func TestJournalHTTP(t *testing.T) {
	j := NewJournal(Config{})
	for i := 0; i < 4; i++ {
		j.Publish(context.Background(), pkg.Event{Type: pkg.EventValidation, Timestamp: time.Now()})
	}

	rec := httptest.NewRecorder()
	j.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?limit=2", nil))
	var events []pkg.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("events = %d; want 2", len(events))
	}

	rec = httptest.NewRecorder()
	j.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

type failingSink struct{}

func (failingSink) Publish(ctx context.Context, e pkg.Event) error { return errors.New("down") }

func TestFanout(t *testing.T) {
	j := NewJournal(Config{})
	f := Fanout{failingSink{}, nil, j}

	err := f.Publish(context.Background(), pkg.Event{Type: pkg.EventError, Timestamp: time.Now()})
	if err == nil {
		t.Error("expected joined error from failing sink")
	}
	if len(j.Events(0)) != 1 {
		t.Error("journal should still receive the event")
	}
}
