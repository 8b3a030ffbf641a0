package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an event carries and which side effect it triggers.
type Kind string

const (
	KindText       Kind = "text"
	KindClipboard  Kind = "clipboard"
	KindScreenshot Kind = "screenshot"
)

// Valid reports whether k is one of the relayed kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindClipboard, KindScreenshot:
		return true
	}
	return false
}

// Common origins used by the nodes' producers.
const (
	OriginClipboardMonitor = "clipboard-monitor"
	OriginFileWatcher      = "file-watcher"
	OriginManual           = "manual"
	OriginPeer             = "peer"
	OriginAPI              = "api"
)

var (
	ErrInvalidEvent = errors.New("invalid event")
	ErrMalformed    = errors.New("malformed message")
)

// Event is the relayed unit. Events are immutable once stamped.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Payload   string    `json:"content"`
	Filename  string    `json:"filename,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
	Origin    string    `json:"source"`
}

// Validate checks the data model invariants.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return e.Draft().Validate()
}

// Draft returns the unstamped content of the event.
func (e Event) Draft() Draft {
	return Draft{Kind: e.Kind, Payload: e.Payload, Filename: e.Filename, Origin: e.Origin}
}

// Draft is event content that has not been assigned an id or timestamp yet.
type Draft struct {
	Kind     Kind
	Payload  string
	Filename string
	Origin   string
}

// Validate checks the content invariants shared with Event.
func (d Draft) Validate() error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, d.Kind)
	}
	if d.Payload == "" {
		return fmt.Errorf("%w: empty payload", ErrInvalidEvent)
	}
	if d.Kind == KindScreenshot {
		if _, err := base64.StdEncoding.DecodeString(d.Payload); err != nil {
			return fmt.Errorf("%w: screenshot payload is not base64: %v", ErrInvalidEvent, err)
		}
	}
	return nil
}

// Binary decodes a screenshot payload.
func (e Event) Binary() ([]byte, error) {
	if e.Kind != KindScreenshot {
		return nil, fmt.Errorf("%w: %s events carry no binary payload", ErrInvalidEvent, e.Kind)
	}
	return base64.StdEncoding.DecodeString(e.Payload)
}

// ScreenshotName returns the filename to persist a screenshot under,
// falling back to one derived from the creation time.
func (e Event) ScreenshotName() string {
	if name := strings.TrimSpace(e.Filename); name != "" {
		return name
	}
	return fmt.Sprintf("screenshot_%d.png", e.CreatedAt.UnixMilli())
}

// Stamper assigns ids and creation times. Timestamps are truncated to
// microseconds and strictly increase across calls, so they can serve as
// poll cursors.
type Stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewStamper creates a stamper; a nil now uses time.Now.
func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

// Stamp validates d and turns it into an Event.
func (s *Stamper) Stamp(d Draft) (Event, error) {
	if err := d.Validate(); err != nil {
		return Event{}, err
	}
	if d.Kind != KindScreenshot {
		d.Filename = ""
	}

	s.mu.Lock()
	id, err := uuid.NewV7()
	if err != nil {
		s.mu.Unlock()
		return Event{}, fmt.Errorf("generating event id: %w", err)
	}
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	s.mu.Unlock()

	return Event{
		ID:        id.String(),
		Kind:      d.Kind,
		Payload:   d.Payload,
		Filename:  d.Filename,
		CreatedAt: t,
		Origin:    d.Origin,
	}, nil
}
