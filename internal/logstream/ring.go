package logstream

import (
	"sync"

	"github.com/irgordon/slipway/internal/core/domain"
)

// ringCapacity bounds the in-memory history kept per deployment. Older
// entries survive only in the database.
const ringCapacity = 1000

// subscriberBuffer leaves headroom above a full replay so a subscriber that
// attaches mid-deployment does not get dropped while the replay drains.
const subscriberBuffer = ringCapacity + 64

// Buffer is a bounded in-memory log ring for a single deployment. Publishes
// never block: when the ring is full the oldest entry is discarded, and a
// subscriber whose channel is full is disconnected rather than waited on.
type Buffer struct {
	mu      sync.Mutex
	entries []domain.LogEntry
	start   int // index of the oldest entry
	count   int
	subs    map[chan domain.LogEntry]struct{}
	closed  bool
}

func NewBuffer() *Buffer {
	return &Buffer{
		entries: make([]domain.LogEntry, ringCapacity),
		subs:    make(map[chan domain.LogEntry]struct{}),
	}
}

// Publish appends the entry to the ring and fans it out to subscribers.
func (b *Buffer) Publish(e domain.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if b.count == ringCapacity {
		b.start = (b.start + 1) % ringCapacity
		b.count--
	}
	b.entries[(b.start+b.count)%ringCapacity] = e
	b.count++

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer. Drop it; the durable log is complete.
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Subscribe registers a new subscriber and replays the current ring contents
// into its channel before any concurrent publish can interleave. The returned
// cancel func is idempotent.
func (b *Buffer) Subscribe() (<-chan domain.LogEntry, func()) {
	ch := make(chan domain.LogEntry, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	for i := 0; i < b.count; i++ {
		ch <- b.entries[(b.start+i)%ringCapacity]
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Snapshot returns the ring contents in publish order.
func (b *Buffer) Snapshot() []domain.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.LogEntry, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.start+i)%ringCapacity]
	}
	return out
}

// Close disconnects all subscribers. Further publishes are no-ops.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
