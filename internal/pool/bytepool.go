package pool

import "sync"

// BytePool is a pool of reusable []byte buffers. Cuts GC pressure on the
// read and write hot paths by reusing allocations.
type BytePool struct {
	pool sync.Pool
}

// NewBytePool creates a pool whose fresh slices start with defaultCap bytes
// of capacity.
func NewBytePool(defaultCap int) *BytePool {
	p := &BytePool{}
	p.pool.New = func() any {
		return make([]byte, 0, defaultCap)
	}
	return p
}

// Get returns a zeroed slice of length size, reusing a pooled allocation
// when one is large enough.
func (p *BytePool) Get(size int) []byte {
	b := p.pool.Get().([]byte)
	if cap(b) < size {
		p.pool.Put(b)
		return make([]byte, size)
	}
	b = b[:size]
	clear(b)
	return b
}

// Put returns a slice to the pool for reuse.
func (p *BytePool) Put(b []byte) {
	if b == nil {
		return
	}
	p.pool.Put(b[:0])
}
