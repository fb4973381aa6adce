package calibration

import (
	"sync"

	"github.com/sitegate/sitegate/pkg"
)

// Batch collects the samples of one in-progress calibration run
type Batch struct {
	mu      sync.Mutex
	target  int
	samples []pkg.LocationSample
}

// NewBatch creates a batch expecting target samples
func NewBatch(target int) *Batch {
	return &Batch{
		target:  target,
		samples: make([]pkg.LocationSample, 0, target),
	}
}

// Record appends a sample to the batch
func (b *Batch) Record(sample pkg.LocationSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, sample)
}

// Len returns the number of recorded samples
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Samples returns a copy of the recorded samples
func (b *Batch) Samples() []pkg.LocationSample {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]pkg.LocationSample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Points returns the sample positions
func (b *Batch) Points() []pkg.GeoPoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]pkg.GeoPoint, len(b.samples))
	for i, s := range b.samples {
		out[i] = s.Point
	}
	return out
}

// Progress returns completion in percent given attempts made so far
func (b *Batch) Progress(attempts int) int {
	if b.target <= 0 {
		return 100
	}
	pct := attempts * 100 / b.target
	if pct > 100 {
		pct = 100
	}
	return pct
}
