package forward

import (
	"log/slog"
	"sync"
	"time"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// Breaker stops forwarding to an ingress that keeps failing.
// State transitions: closed → open → half-open → closed
//
// - Closed: Normal operation. Failures are counted.
// - Open: All forwards are rejected. Transitions to half-open after cooldown.
// - Half-Open: One probe is allowed. Success → closed, failure → open.
type Breaker struct {
	logger    *slog.Logger
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu           sync.Mutex
	state        string
	failures     int
	lastFailedAt time.Time
	probing      bool
}

func NewBreaker(threshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		logger:    logger,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     StateClosed,
	}
}

// Allow reports whether a forward may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		b.logger.Info("circuit breaker half-open")
		return true
	case StateHalfOpen:
		// Only one probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.logger.Info("circuit breaker closed (recovered)")
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailedAt = b.now()
	b.probing = false

	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("circuit breaker re-opened (half-open probe failed)")
	case b.state == StateClosed && b.failures >= b.threshold:
		b.state = StateOpen
		b.logger.Warn("circuit breaker opened", "failures", b.failures, "threshold", b.threshold)
	}
}

// State returns the current state, reporting half-open once the cooldown
// of an open circuit has elapsed.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}
