package routing

import (
	"sync"
	"time"
)

const windowBuckets = 10

type windowBucket struct {
	slot     int64
	requests uint32
	failures uint32
}

// failureWindow counts upstream outcomes over a trailing span. The span is cut
// into fixed buckets that age out one at a time.
type failureWindow struct {
	mu      sync.Mutex
	width   int64
	buckets [windowBuckets]windowBucket
	now     func() time.Time
}

func newFailureWindow(span time.Duration, now func() time.Time) *failureWindow {
	if span <= 0 {
		span = time.Minute
	}
	width := int64(span / windowBuckets)
	if width <= 0 {
		width = 1
	}
	return &failureWindow{width: width, now: now}
}

func (w *failureWindow) record(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot := w.now().UnixNano() / w.width
	b := &w.buckets[slot%windowBuckets]
	if b.slot != slot {
		*b = windowBucket{slot: slot}
	}
	b.requests++
	if failed {
		b.failures++
	}
}

func (w *failureWindow) totals() (requests, failures uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.now().UnixNano() / w.width
	for _, b := range w.buckets {
		if b.slot > current-windowBuckets && b.slot <= current {
			requests += b.requests
			failures += b.failures
		}
	}
	return requests, failures
}

func (w *failureWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buckets = [windowBuckets]windowBucket{}
}
