package cache

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Debouncer collapses rapid calls into one execution of the wrapped work.
// Calls arriving while work is in flight join it; calls arriving within the
// window after a successful run receive that run's value.
type Debouncer[T any] struct {
	window time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu   sync.Mutex
	gen  uint64
	last *settled[T]
}

type settled[T any] struct {
	value T
	at    time.Time
	gen   uint64
}

// NewDebouncer creates a debouncer; now may be nil
func NewDebouncer[T any](window time.Duration, now func() time.Time) *Debouncer[T] {
	if now == nil {
		now = time.Now
	}
	return &Debouncer[T]{window: window, now: now}
}

// Do runs fn unless it can hand back an in-flight or recent result.
// shared is true when the caller did not trigger its own execution.
func (d *Debouncer[T]) Do(fn func() (T, error)) (value T, shared bool, err error) {
	d.mu.Lock()
	gen := d.gen
	if d.last != nil && d.last.gen == gen && d.now().Sub(d.last.at) < d.window {
		v := d.last.value
		d.mu.Unlock()
		return v, true, nil
	}
	d.mu.Unlock()

	v, err, joined := d.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		val, err := fn()
		if err == nil {
			d.mu.Lock()
			if d.gen == gen {
				d.last = &settled[T]{value: val, at: d.now(), gen: gen}
			}
			d.mu.Unlock()
		}
		return val, err
	})

	value, _ = v.(T)
	return value, joined, err
}

// Forget drops the remembered result; an in-flight run can still be joined
func (d *Debouncer[T]) Forget() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = nil
}

// Reset drops the remembered result and detaches any in-flight run so the
// next call starts fresh
func (d *Debouncer[T]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.last = nil
}
