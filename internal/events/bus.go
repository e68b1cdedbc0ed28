package events

import (
	"context"
	"sync"

	"netevd/internal/logging"
)

// Bus is the bounded, single-stream event queue described in spec §4.5/§5.
// Producers (C1, C3, C4) call Publish in their own order; consumers call
// Next in a loop. When the queue is at capacity, Publish coalesces the
// oldest pending event with the same (ifindex, kind) key into the new one
// rather than blocking the producer or dropping the newer event (B-3). If
// no same-key entry exists to coalesce, the globally oldest entry is
// evicted to make room.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	capacity int
	closed   bool

	published int64
	coalesced int64
	evicted   int64
}

// NewBus creates a Bus with the given bounded capacity.
func NewBus(capacity int) *Bus {
	b := &Bus{queue: make([]Event, 0, capacity), capacity: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish enqueues an event, applying the overflow-coalescing policy if
// the bus is at capacity. Never blocks.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if e.ID == "" {
		e.ID = newID()
	}

	b.published++

	if len(b.queue) < b.capacity {
		b.queue = append(b.queue, e)
		b.cond.Signal()
		return
	}

	key := keyOf(e)
	for i := range b.queue {
		if keyOf(b.queue[i]) == key {
			b.queue[i] = e
			b.coalesced++
			b.cond.Signal()
			return
		}
	}

	// No matching key to coalesce with: evict the oldest entry so the
	// newer event is never silently dropped (B-3).
	logging.Warn("event bus at capacity, evicting oldest event", "capacity", b.capacity)
	b.queue = append(b.queue[1:], e)
	b.evicted++
	b.cond.Signal()
}

// Next blocks until an event is available, the bus is closed, or ctx is
// canceled. ok is false in the latter two cases.
func (b *Bus) Next(ctx context.Context) (Event, bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.queue) == 0 && !b.closed {
		select {
		case <-done:
			return Event{}, false
		default:
		}
		b.cond.Wait()
	}
	if len(b.queue) == 0 {
		return Event{}, false
	}

	e := b.queue[0]
	b.queue = b.queue[1:]
	return e, true
}

// Close unblocks all pending and future Next calls.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Stats reports cumulative counters, primarily for tests and diagnostics.
type Stats struct {
	Published int64
	Coalesced int64
	Evicted   int64
	Pending   int
}

// Stats returns a snapshot of the bus's counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Published: b.published, Coalesced: b.coalesced, Evicted: b.evicted, Pending: len(b.queue)}
}
