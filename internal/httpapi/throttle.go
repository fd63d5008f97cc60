package httpapi

import (
	"sync"
	"time"
)

// ConnectThrottle bounds how many connection attempts are accepted inside a
// sliding time window. A zero window or burst disables the throttle.
type ConnectThrottle struct {
	window time.Duration
	burst  int
	now    func() time.Time

	mu       sync.Mutex
	attempts []time.Time
	denied   uint64
}

// NewConnectThrottle allows up to burst attempts per window.
func NewConnectThrottle(window time.Duration, burst int, timeSource func() time.Time) *ConnectThrottle {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &ConnectThrottle{window: window, burst: burst, now: timeSource}
}

// Allow records one attempt and reports whether it fits in the window.
func (t *ConnectThrottle) Allow() bool {
	if t == nil || t.window <= 0 || t.burst <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	kept := t.attempts[:0]
	for _, ts := range t.attempts {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.attempts = kept
	if len(t.attempts) >= t.burst {
		t.denied++
		return false
	}
	t.attempts = append(t.attempts, t.now())
	return true
}

// Denied reports how many attempts the throttle has rejected since startup.
func (t *ConnectThrottle) Denied() uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.denied
}
