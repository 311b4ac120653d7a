// Package pool provides typed bounded object pools for the packet hot path
// and a byte-slice pool for framing and write buffers.
package pool

import "sync"

// Poolable is required of pooled objects: Reset must return the object to
// its zero state, including wiping any sensitive payload bytes.
type Poolable interface {
	Reset()
}

// Pool is a typed bounded free list. Put resets the object before caching
// it; objects beyond the capacity are dropped for the GC. Safe for
// concurrent use.
type Pool[T Poolable] struct {
	mu    sync.Mutex
	items []T
	max   int
	newFn func() T
}

// New creates a pool producing fresh objects via newFn, caching at most max.
func New[T Poolable](newFn func() T, max int) *Pool[T] {
	if max <= 0 {
		max = 1
	}
	return &Pool[T]{
		items: make([]T, 0, max),
		max:   max,
		newFn: newFn,
	}
}

// Get pops a cached object or allocates a fresh one.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	if n := len(p.items); n > 0 {
		v := p.items[n-1]
		var zero T
		p.items[n-1] = zero
		p.items = p.items[:n-1]
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()
	return p.newFn()
}

// Put resets v and returns it to the pool. Dropped silently when the pool
// is at capacity.
func (p *Pool[T]) Put(v T) {
	v.Reset()
	p.mu.Lock()
	if len(p.items) < p.max {
		p.items = append(p.items, v)
	}
	p.mu.Unlock()
}

// SetMaxCapacity adjusts the cap, shrinking the cache if needed.
func (p *Pool[T]) SetMaxCapacity(n int) {
	if n <= 0 {
		n = 1
	}
	p.mu.Lock()
	p.max = n
	if len(p.items) > n {
		clear(p.items[n:])
		p.items = p.items[:n]
	}
	p.mu.Unlock()
}

// Prealloc fills the pool with up to n fresh objects.
func (p *Pool[T]) Prealloc(n int) {
	p.mu.Lock()
	for len(p.items) < p.max && n > 0 {
		p.items = append(p.items, p.newFn())
		n--
	}
	p.mu.Unlock()
}

// Len returns the number of cached objects.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
