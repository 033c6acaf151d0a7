package containment

import (
	"sync"
	"time"
)

// Tracker counts failures inside a rolling window.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	window time.Duration

	mu     sync.Mutex
	times  []time.Time
	total  int64
	byKind map[Kind]int64
}

// NewTracker creates a tracker with the given window.
func NewTracker(window time.Duration) *Tracker {
	return &Tracker{window: window, byKind: make(map[Kind]int64)}
}

// Record notes one failure at now and returns the count inside the window.
func (t *Tracker) Record(kind Kind, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)
	t.times = append(t.times, now)
	t.total++
	t.byKind[kind]++
	return len(t.times)
}

// Count returns the number of failures inside the window ending at now.
func (t *Tracker) Count(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)
	return len(t.times)
}

// Reset clears the window. Lifetime totals are kept.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = nil
}

// Total returns the lifetime failure count.
func (t *Tracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByKind returns lifetime counts per kind.
func (t *Tracker) ByKind() map[Kind]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Kind]int64, len(t.byKind))
	for k, v := range t.byKind {
		out[k] = v
	}
	return out
}

// pruneLocked drops failures at or before now - window.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.times) && !t.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.times = append(t.times[:0], t.times[i:]...)
	}
}
