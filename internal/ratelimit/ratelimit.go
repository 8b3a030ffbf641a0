// Package ratelimit throttles ingress submissions per client.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more request from key fits its budget.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) bool { return true }

// idleTTL is how long an unused bucket is kept. A bucket idle for more
// than a second has refilled completely, so dropping it loses nothing.
const idleTTL = time.Minute

// Local is an in-process token bucket per key. Idle buckets are pruned
// so the map stays proportional to recently active clients.
type Local struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocal allows perSecond requests per key with bursts of the same size.
func NewLocal(perSecond int) *Local {
	return &Local{
		limit:   rate.Limit(perSecond),
		burst:   perSecond,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *Local) Allow(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) >= idleTTL {
		l.pruneLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *Local) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= idleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastPrune = now
}

// Len returns the number of tracked clients.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
