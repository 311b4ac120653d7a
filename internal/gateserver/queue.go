package gateserver

import (
	"context"
	"sync"

	"github.com/ppn-systems/orion/internal/protocol"
)

// dispatchQueue is the bounded per-connection FIFO between the read loop
// (single producer) and the dispatcher goroutine (single consumer).
//
// Overflow policy: drop the oldest non-critical packet and admit the new
// one. Handshake frames are critical and never dropped; when the queue
// holds only critical frames the incoming packet is rejected instead.
type dispatchQueue struct {
	mu    sync.Mutex
	items []*protocol.Packet
	max   int
	wake  chan struct{}
}

func newDispatchQueue(max int) *dispatchQueue {
	if max <= 0 {
		max = 64
	}
	return &dispatchQueue{
		items: make([]*protocol.Packet, 0, max),
		max:   max,
		wake:  make(chan struct{}, 1),
	}
}

func critical(p *protocol.Packet) bool {
	return p.Header.Magic == protocol.MagicHandshake
}

// push enqueues p. Returns the dropped packet when overflow evicted an
// older one, and ok=false when p itself was rejected.
func (q *dispatchQueue) push(p *protocol.Packet) (dropped *protocol.Packet, ok bool) {
	q.mu.Lock()
	defer func() {
		q.mu.Unlock()
		if ok {
			select {
			case q.wake <- struct{}{}:
			default:
			}
		}
	}()

	if len(q.items) < q.max {
		q.items = append(q.items, p)
		return nil, true
	}

	for i, old := range q.items {
		if critical(old) {
			continue
		}
		dropped = old
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = p
		return dropped, true
	}

	// Only critical packets queued: reject the newcomer.
	return nil, false
}

// pop blocks until a packet is available or ctx is done.
func (q *dispatchQueue) pop(ctx context.Context) (*protocol.Packet, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			copy(q.items, q.items[1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			q.mu.Unlock()
			return p, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// drain empties the queue and returns the remaining packets.
func (q *dispatchQueue) drain() []*protocol.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *dispatchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
