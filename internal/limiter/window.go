package limiter

import "time"

// CallWindow enforces a per-handler fixed window: at most Max calls per
// Window. State is owned by a single connection's dispatcher goroutine, so
// no synchronization is needed.
type CallWindow struct {
	Max    int
	Window time.Duration

	start time.Time
	count int
}

// Allow admits one call at now, rolling the window when it has elapsed.
func (w *CallWindow) Allow(now time.Time) bool {
	if w.Max <= 0 {
		return true
	}
	if w.start.IsZero() || now.Sub(w.start) >= w.Window {
		w.start = now
		w.count = 0
	}
	if w.count >= w.Max {
		return false
	}
	w.count++
	return true
}
