package forward

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

// Pool runs forwards on a fixed number of worker goroutines so producers
// never wait on the ingress.
type Pool struct {
	numWorkers int
	forwarder  *Forwarder
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu      sync.Mutex
	jobs    chan domain.Event
	stopped bool

	failed atomic.Int64
	shed   atomic.Int64
}

// NewPool creates a pool with the given number of workers and queue size.
func NewPool(numWorkers, queueSize int, f *Forwarder, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = numWorkers * 32
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan domain.Event, queueSize),
		forwarder:  f,
		logger:     logger.With("component", "forward_pool"),
	}
}

// Start launches the workers. Queued events are still forwarded after ctx
// is cancelled, until Stop returns.
func (p *Pool) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("forward pool started", "num_workers", p.numWorkers, "endpoint", p.forwarder.Endpoint())
}

// Submit queues ev without blocking. It reports false when the queue is
// full or the pool is stopped.
func (p *Pool) Submit(ev domain.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	select {
	case p.jobs <- ev:
		return true
	default:
		p.logger.Warn("forward queue full, dropping event", "event_id", ev.ID)
		return false
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("forward pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for ev := range p.jobs {
		err := p.forwarder.Forward(ctx, ev)
		switch {
		case errors.Is(err, ErrCircuitOpen):
			p.shed.Add(1)
			p.logger.Warn("ingress circuit open, event not forwarded",
				"event_id", ev.ID,
				"kind", string(ev.Kind),
				"shed_total", p.shed.Load(),
			)
		case err != nil:
			p.failed.Add(1)
		}
	}
}

// Failed returns how many forwards reached the ingress and failed.
func (p *Pool) Failed() int64 { return p.failed.Load() }

// Shed returns how many events were dropped because the circuit was open.
func (p *Pool) Shed() int64 { return p.shed.Load() }
