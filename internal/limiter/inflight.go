package limiter

import "sync/atomic"

// Inflight caps concurrent handler executions across all connections.
// Lock-free: a single atomic counter.
type Inflight struct {
	cur atomic.Int64
	max int64
}

// NewInflight creates a limiter admitting at most max concurrent holders.
// max <= 0 means unlimited.
func NewInflight(max int64) *Inflight {
	return &Inflight{max: max}
}

// TryAcquire takes a slot, or reports false when the cap is reached.
func (g *Inflight) TryAcquire() bool {
	if g.max <= 0 {
		return true
	}
	if g.cur.Add(1) > g.max {
		g.cur.Add(-1)
		return false
	}
	return true
}

// Release returns a slot taken by TryAcquire.
func (g *Inflight) Release() {
	if g.max <= 0 {
		return
	}
	g.cur.Add(-1)
}

// Current returns the number of held slots.
func (g *Inflight) Current() int64 {
	return g.cur.Load()
}
