package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WireTypeMessage is the generic type used for manually typed messages.
const WireTypeMessage = "message"

// RoleHeader tells the receiver's peer endpoint who is connecting.
const (
	RoleHeader   = "X-Relay-Role"
	RoleSender   = "sender"
	RoleObserver = "observer"
)

// Message is the peer wire format: one JSON object per websocket frame.
type Message struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Filename  string `json:"filename,omitempty"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// KindFromWire maps a wire type to a kind. Unknown types, including the
// generic "message", carry plain text.
func KindFromWire(t string) Kind {
	if k := Kind(t); k.Valid() {
		return k
	}
	return KindText
}

// Inbound is a decoded peer message.
type Inbound struct {
	Draft
	WireType string
	SentAt   time.Time
}

type rawMessage struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Filename  string          `json:"filename,omitempty"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
}

// EncodeMessage renders an event in the peer wire format.
func EncodeMessage(e Event) ([]byte, error) {
	return json.Marshal(Message{
		Type:      string(e.Kind),
		Content:   e.Payload,
		Filename:  e.Filename,
		Timestamp: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		Source:    e.Origin,
	})
}

// DecodeMessage parses a peer frame. Known types must carry a non-empty
// string content; unknown types are accepted as text when content is a
// string and rejected otherwise. Every rejection wraps ErrMalformed.
func DecodeMessage(data []byte) (Inbound, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var content string
	if len(raw.Content) == 0 || json.Unmarshal(raw.Content, &content) != nil {
		return Inbound{}, fmt.Errorf("%w: content is not a string", ErrMalformed)
	}

	in := Inbound{
		Draft: Draft{
			Kind:     KindFromWire(raw.Type),
			Payload:  content,
			Filename: strings.TrimSpace(raw.Filename),
			Origin:   raw.Source,
		},
		WireType: raw.Type,
	}
	if in.Origin == "" {
		in.Origin = OriginPeer
	}

	if raw.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, raw.Timestamp)
		}
		in.SentAt = t
	}

	if err := in.Draft.Validate(); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return in, nil
}

// Observer push envelopes.
const (
	ObserverTypeHistory = "history"
	ObserverTypeNewData = "new_data"
)

// ObserverMessage is what the broker pushes to observers.
type ObserverMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeHistory renders the initial snapshot sent to a joining observer.
func EncodeHistory(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	return encodeObserver(ObserverTypeHistory, events)
}

// EncodeNewData renders a live event for observers.
func EncodeNewData(e Event) ([]byte, error) {
	return encodeObserver(ObserverTypeNewData, e)
}

func encodeObserver(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return json.Marshal(ObserverMessage{Type: typ, Data: data})
}
