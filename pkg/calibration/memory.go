package calibration

import (
	"context"
	"sync"

	"github.com/sitegate/sitegate/pkg"
)

// MemoryBackend keeps records for the lifetime of the process
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]pkg.CalibrationRecord
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]pkg.CalibrationRecord)}
}

func (m *MemoryBackend) Load(ctx context.Context) ([]pkg.CalibrationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]pkg.CalibrationRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryBackend) Save(ctx context.Context, record pkg.CalibrationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.SiteID] = record
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, siteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, siteID)
	return nil
}

func (m *MemoryBackend) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]pkg.CalibrationRecord)
	return nil
}
