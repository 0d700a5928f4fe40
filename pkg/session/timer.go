package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// ActionTimer is a cancellable, generation-countered one-shot timer
// (spec.md §9 "Timers as first-class events"): a stale expiry from a
// timer that was since cancelled or superseded is ignored rather than
// mutating state for the wrong seat or round.
type ActionTimer struct {
	mu         sync.Mutex
	generation uint64
	timer      *time.Timer
}

// Start arms a one-shot timer for d. If fn fires, it is invoked only if no
// newer generation has been started or cancelled in the meantime. Starting
// a new timer implicitly invalidates (and stops) any prior one.
func (a *ActionTimer) Start(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	gen := atomic.AddUint64(&a.generation, 1)
	a.timer = time.AfterFunc(d, func() {
		if atomic.LoadUint64(&a.generation) != gen {
			return // stale fire: a newer Start or a Cancel superseded this one
		}
		fn()
	})
}

// Cancel invalidates any in-flight timer so a subsequent fire is ignored
// and no further callback will run from it. Safe to call when no timer is
// active.
func (a *ActionTimer) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()

	atomic.AddUint64(&a.generation, 1)
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
