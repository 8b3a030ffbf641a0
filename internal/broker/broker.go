// Package broker implements the receiver's relay hub: it ingests events from
// the sender and the ingress API, applies per-kind side effects, keeps the
// bounded history and fans events out to observers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/clipboard-relay/internal/domain"
	"github.com/Priya8975/clipboard-relay/internal/history"
	"github.com/Priya8975/clipboard-relay/internal/store"
)

var (
	ErrNotConnected = errors.New("sender not connected")
	ErrClosed       = errors.New("broker closed")
)

// DefaultSideEffectTimeout bounds a clipboard or screenshot write.
const DefaultSideEffectTimeout = 2 * time.Second

// Clipboard is the clipboard-write capability.
type Clipboard interface {
	Write(ctx context.Context, text string) error
}

// ScreenshotSaver persists decoded screenshots and returns where they went.
type ScreenshotSaver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Observer is a live push connection. Enqueue must not block; returning
// false removes the observer.
type Observer interface {
	ID() string
	Enqueue(msg []byte) bool
	Close()
}

// SenderLink is the inbound connection from the sender node.
type SenderLink interface {
	Send(ev domain.Event) error
	RemoteAddr() string
	Close() error
}

type Config struct {
	HistoryCapacity   int
	SideEffectTimeout time.Duration
	// Log backs pull-mode polling. Defaults to an unbounded MemoryLog.
	Log         store.EventLog
	Clipboard   Clipboard
	Screenshots ScreenshotSaver
	Now         func() time.Time
	Logger      *slog.Logger
}

// Broker is safe for concurrent use.
type Broker struct {
	cfg     Config
	logger  *slog.Logger
	stamper *domain.Stamper

	// ingestMu serializes ingestion so poll cursors and observer order
	// follow createdAt.
	ingestMu sync.Mutex

	mu        sync.Mutex
	history   *history.Buffer
	observers map[string]Observer
	sender    SenderLink
	closed    bool

	ingested           atomic.Int64
	sideEffectFailures atomic.Int64
	observerDrops      atomic.Int64
}

func New(cfg Config) *Broker {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = history.DefaultCapacity
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = DefaultSideEffectTimeout
	}
	if cfg.Log == nil {
		cfg.Log = store.NewMemoryLog(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Broker{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "broker"),
		stamper:   domain.NewStamper(cfg.Now),
		history:   history.New(cfg.HistoryCapacity),
		observers: make(map[string]Observer),
	}
}

// Submit stamps d and ingests the resulting event. Stamping and ingestion
// share one lock, so events reach the poll log in creation order. Side
// effect failures and timeouts are logged; they never fail ingestion.
func (b *Broker) Submit(ctx context.Context, d domain.Draft) (domain.Event, error) {
	b.ingestMu.Lock()
	defer b.ingestMu.Unlock()

	ev, err := b.stamper.Stamp(d)
	if err != nil {
		return domain.Event{}, err
	}
	if err := b.ingestLocked(ctx, ev); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (b *Broker) ingestLocked(ctx context.Context, ev domain.Event) error {
	if b.isClosed() {
		return ErrClosed
	}

	b.applySideEffect(ctx, ev)

	if err := b.cfg.Log.Append(ctx, ev); err != nil {
		b.logger.Error("appending to poll log", "event_id", ev.ID, "error", err)
	}

	msg, err := domain.EncodeNewData(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.ID, err)
	}

	b.mu.Lock()
	b.history.Append(ev)
	n := b.broadcastLocked(msg)
	b.mu.Unlock()

	b.ingested.Add(1)
	b.logger.Info("event ingested",
		"event_id", ev.ID,
		"kind", string(ev.Kind),
		"origin", ev.Origin,
		"observers", n,
	)
	return nil
}

// applySideEffect runs the kind's side effect bounded by the configured
// timeout. On timeout the write is abandoned and ingestion proceeds.
func (b *Broker) applySideEffect(ctx context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SideEffectTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.sideEffect(ctx, ev)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.sideEffectFailures.Add(1)
			b.logger.Warn("side effect failed", "event_id", ev.ID, "kind", string(ev.Kind), "error", err)
		}
	case <-ctx.Done():
		b.sideEffectFailures.Add(1)
		b.logger.Warn("side effect timed out",
			"event_id", ev.ID,
			"kind", string(ev.Kind),
			"timeout", b.cfg.SideEffectTimeout,
			"error", ctx.Err(),
		)
	}
}

func (b *Broker) sideEffect(ctx context.Context, ev domain.Event) error {
	switch ev.Kind {
	case domain.KindText, domain.KindClipboard:
		if b.cfg.Clipboard == nil {
			return nil
		}
		return b.cfg.Clipboard.Write(ctx, ev.Payload)
	case domain.KindScreenshot:
		if b.cfg.Screenshots == nil {
			return nil
		}
		data, err := ev.Binary()
		if err != nil {
			return err
		}
		path, err := b.cfg.Screenshots.Save(ctx, ev.ScreenshotName(), data)
		if err != nil {
			return err
		}
		b.logger.Debug("screenshot saved", "event_id", ev.ID, "path", path, "bytes", len(data))
		return nil
	}
	return nil
}

func (b *Broker) broadcastLocked(msg []byte) int {
	delivered := 0
	for id, o := range b.observers {
		if o.Enqueue(msg) {
			delivered++
			continue
		}
		delete(b.observers, id)
		b.observerDrops.Add(1)
		b.logger.Warn("observer dropped", "observer_id", id)
		go o.Close()
	}
	return delivered
}

// Join sends the current history to o as one message and then adds it to
// the live set. Both happen under the lock that ingestion appends under, so
// every event is seen by o exactly once: in the snapshot or live after it.
func (b *Broker) Join(o Observer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	msg, err := domain.EncodeHistory(b.history.Snapshot())
	if err != nil {
		return err
	}
	if !o.Enqueue(msg) {
		return fmt.Errorf("observer %s rejected history", o.ID())
	}
	b.observers[o.ID()] = o
	b.logger.Info("observer joined", "observer_id", o.ID(), "observers", len(b.observers))
	return nil
}

// Leave removes the observer with id. It does not close it.
func (b *Broker) Leave(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.observers[id]; ok {
		delete(b.observers, id)
		b.logger.Info("observer left", "observer_id", id, "observers", len(b.observers))
	}
}

// History returns the buffered events, oldest first.
func (b *Broker) History() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Snapshot()
}

// Poll returns events created strictly after since.
func (b *Broker) Poll(ctx context.Context, since time.Time, limit int) (store.PollResult, error) {
	if limit <= 0 {
		limit = store.DefaultPollLimit
	}
	return b.cfg.Log.Since(ctx, since, limit)
}

// Clear empties both the poll log and the history buffer.
func (b *Broker) Clear(ctx context.Context) error {
	b.ingestMu.Lock()
	defer b.ingestMu.Unlock()

	if err := b.cfg.Log.Clear(ctx); err != nil {
		return fmt.Errorf("clearing poll log: %w", err)
	}
	b.mu.Lock()
	b.history.Clear()
	b.mu.Unlock()
	b.logger.Info("history cleared")
	return nil
}

// AttachSender makes link the current sender. A previous sender is closed.
func (b *Broker) AttachSender(link SenderLink) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	prev := b.sender
	b.sender = link
	b.mu.Unlock()

	if prev != nil {
		b.logger.Warn("sender replaced", "previous", prev.RemoteAddr(), "current", link.RemoteAddr())
		prev.Close()
	} else {
		b.logger.Info("sender connected", "remote_addr", link.RemoteAddr())
	}
	return nil
}

// DetachSender clears link if it is still the current sender.
func (b *Broker) DetachSender(link SenderLink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sender == link {
		b.sender = nil
		b.logger.Info("sender disconnected", "remote_addr", link.RemoteAddr())
	}
}

// SendToSender stamps d and forwards it to the connected sender. Nothing is
// buffered: without a sender it returns ErrNotConnected.
func (b *Broker) SendToSender(ctx context.Context, d domain.Draft) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}

	b.mu.Lock()
	link, closed := b.sender, b.closed
	b.mu.Unlock()
	if closed {
		return domain.Event{}, ErrClosed
	}
	if link == nil {
		return domain.Event{}, ErrNotConnected
	}

	ev, err := b.stamper.Stamp(d)
	if err != nil {
		return domain.Event{}, err
	}
	if err := link.Send(ev); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	b.logger.Info("event sent to sender", "event_id", ev.ID, "kind", string(ev.Kind))
	return ev, nil
}

// Stats is a point-in-time view of the broker.
type Stats struct {
	SenderConnected    bool   `json:"sender_connected"`
	SenderAddr         string `json:"sender_addr,omitempty"`
	Observers          int    `json:"observers"`
	HistorySize        int    `json:"history_size"`
	Ingested           int64  `json:"ingested"`
	SideEffectFailures int64  `json:"side_effect_failures"`
	ObserverDrops      int64  `json:"observer_drops"`
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		SenderConnected: b.sender != nil,
		Observers:       len(b.observers),
		HistorySize:     b.history.Len(),
	}
	if b.sender != nil {
		s.SenderAddr = b.sender.RemoteAddr()
	}
	b.mu.Unlock()

	s.Ingested = b.ingested.Load()
	s.SideEffectFailures = b.sideEffectFailures.Load()
	s.ObserverDrops = b.observerDrops.Load()
	return s
}

// Shutdown waits for in-flight ingestion, refuses new work and closes every
// live connection.
func (b *Broker) Shutdown(ctx context.Context) error {
	locked := make(chan struct{})
	go func() {
		b.ingestMu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		defer b.ingestMu.Unlock()
	case <-ctx.Done():
		// Proceed without waiting; the pending Lock releases when ingest ends.
		go func() {
			<-locked
			b.ingestMu.Unlock()
		}()
	}

	b.mu.Lock()
	b.closed = true
	observers := b.observers
	b.observers = make(map[string]Observer)
	sender := b.sender
	b.sender = nil
	b.mu.Unlock()

	for _, o := range observers {
		o.Close()
	}
	if sender != nil {
		sender.Close()
	}
	b.logger.Info("broker shut down", "observers_closed", len(observers))
	return ctx.Err()
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
