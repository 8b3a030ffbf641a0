package store

import (
	"context"
	"sync"
	"time"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

// DefaultPollLimit is the page size used when a poll asks for none.
const DefaultPollLimit = 10

// PollResult is one page of the pull-mode log.
type PollResult struct {
	Events     []domain.Event `json:"events"`
	TotalCount int64          `json:"totalCount"`
}

// EventLog is the store behind pull-mode delivery. It keeps no per-client
// cursor state.
type EventLog interface {
	// Append records e. Events must be appended in creation order.
	Append(ctx context.Context, e domain.Event) error
	// Since returns the most recent limit events created strictly after
	// since (zero since matches everything), oldest-first, together with
	// the number of events appended since the last Clear.
	Since(ctx context.Context, since time.Time, limit int) (PollResult, error)
	// Clear drops every event and resets the total count.
	Clear(ctx context.Context) error
}

// MemoryLog is an in-process EventLog. With capacity 0 it grows without
// bound.
type MemoryLog struct {
	mu       sync.RWMutex
	events   []domain.Event
	total    int64
	capacity int
}

// NewMemoryLog creates an in-memory log; capacity <= 0 means unbounded.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryLog{capacity: capacity}
}

func (l *MemoryLog) Append(_ context.Context, e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)
	l.total++
	if l.capacity > 0 && len(l.events) > l.capacity {
		drop := len(l.events) - l.capacity
		l.events = append(l.events[:0:0], l.events[drop:]...)
	}
	return nil
}

func (l *MemoryLog) Since(_ context.Context, since time.Time, limit int) (PollResult, error) {
	if limit <= 0 {
		limit = DefaultPollLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	// Events are in creation order, so everything after since is a suffix.
	start := len(l.events)
	for start > 0 && l.events[start-1].CreatedAt.After(since) {
		start--
	}
	if n := len(l.events) - start; n > limit {
		start += n - limit
	}

	events := make([]domain.Event, len(l.events)-start)
	copy(events, l.events[start:])

	return PollResult{Events: events, TotalCount: l.total}, nil
}

func (l *MemoryLog) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	l.total = 0
	return nil
}

// Len returns the number of stored events.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
