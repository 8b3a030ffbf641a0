// Package history keeps the bounded recent-event buffer replayed to new
// observers.
package history

import "github.com/Priya8975/clipboard-relay/internal/domain"

// DefaultCapacity is the number of events kept when no capacity is given.
const DefaultCapacity = 50

// Buffer is a fixed-capacity FIFO ring of events. Once full, each append
// evicts the oldest event. It is not safe for concurrent use; the broker
// serializes access.
type Buffer struct {
	events []domain.Event
	head   int // index of the oldest event
	size   int
}

// New creates a buffer; capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{events: make([]domain.Event, capacity)}
}

// Append adds e as the newest event.
func (b *Buffer) Append(e domain.Event) {
	c := len(b.events)
	if b.size < c {
		b.events[(b.head+b.size)%c] = e
		b.size++
		return
	}
	b.events[b.head] = e
	b.head = (b.head + 1) % c
}

// Snapshot returns the buffered events oldest-first.
func (b *Buffer) Snapshot() []domain.Event {
	out := make([]domain.Event, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.events[(b.head+i)%len(b.events)]
	}
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.events) }

// Clear drops every buffered event.
func (b *Buffer) Clear() {
	clear(b.events)
	b.head, b.size = 0, 0
}
