package consumption

import (
	"sync"
	"time"
)

// throttle lets at most one call through per interval. Calls made while
// another is running, or before the interval has passed, are dropped.
type throttle struct {
	interval time.Duration
	now      func() time.Time

	running sync.Mutex

	mu   sync.Mutex
	last time.Time
}

// do runs fn unless throttled and reports whether it ran. force ignores the
// interval but never runs fn concurrently with itself.
func (t *throttle) do(force bool, fn func()) bool {
	if !t.running.TryLock() {
		return false
	}
	defer t.running.Unlock()

	now := t.now()
	t.mu.Lock()
	if !force && !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return false
	}
	// the interval starts when the call is made, failed fetches count too
	t.last = now
	t.mu.Unlock()

	fn()
	return true
}

func (t *throttle) lastCall() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
