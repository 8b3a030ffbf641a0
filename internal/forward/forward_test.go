package forward

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type ingress struct {
	mu     sync.Mutex
	got    []Submission
	status int
}

func (i *ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/events" {
		http.NotFound(w, r)
		return
	}
	var s Submission
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	i.mu.Lock()
	i.got = append(i.got, s)
	status := i.status
	i.mu.Unlock()

	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
	w.Write([]byte(`{"id":"x"}`))
}

func (i *ingress) received() []Submission {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Submission(nil), i.got...)
}

func event(t *testing.T, content string) domain.Event {
	t.Helper()
	e, err := domain.NewStamper(nil).Stamp(domain.Draft{Kind: domain.KindClipboard, Payload: content, Origin: domain.OriginClipboardMonitor})
	if err != nil {
		t.Fatalf("stamp: %v", err)
	}
	return e
}

func TestNewForwarder_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://host", "not a url at all", "://missing"} {
		if _, err := NewForwarder(u, time.Second, testLogger()); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}

	f, err := NewForwarder("http://relay:3002/", time.Second, testLogger())
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	if f.Endpoint() != "http://relay:3002/events" {
		t.Errorf("endpoint: got %q", f.Endpoint())
	}
}

func TestForwarder_PostsSubmission(t *testing.T) {
	in := &ingress{}
	server := httptest.NewServer(in)
	defer server.Close()

	f, err := NewForwarder(server.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	if err := f.Forward(context.Background(), event(t, "copied")); err != nil {
		t.Fatalf("forward: %v", err)
	}

	got := in.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(got))
	}
	want := Submission{Type: "clipboard", Content: "copied", Source: domain.OriginClipboardMonitor}
	if got[0] != want {
		t.Errorf("submission: got %+v, want %+v", got[0], want)
	}
}

func TestForwarder_NonCreatedIsError(t *testing.T) {
	in := &ingress{status: http.StatusInternalServerError}
	server := httptest.NewServer(in)
	defer server.Close()

	f, err := NewForwarder(server.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	if err := f.Forward(context.Background(), event(t, "x")); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestForwarder_OpensCircuitAfterRepeatedFailures(t *testing.T) {
	in := &ingress{status: http.StatusServiceUnavailable}
	server := httptest.NewServer(in)
	defer server.Close()

	f, err := NewForwarder(server.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	for i := 0; i < defaultFailureThreshold; i++ {
		f.Forward(context.Background(), event(t, "x"))
	}

	if err := f.Forward(context.Background(), event(t, "x")); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if n := len(in.received()); n != defaultFailureThreshold {
		t.Errorf("ingress saw %d requests, want %d", n, defaultFailureThreshold)
	}
}

func TestBreaker_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(2, time.Minute, testLogger())
	b.now = func() time.Time { return now }

	if b.State() != StateClosed || !b.Allow() {
		t.Fatal("new breaker should be closed")
	}

	b.RecordFailure()
	if b.State() != StateClosed {
		t.Errorf("one failure: got %s", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen || b.Allow() {
		t.Errorf("threshold reached: got %s", b.State())
	}

	now = now.Add(time.Minute)
	if b.State() != StateHalfOpen {
		t.Errorf("after cooldown: got %s", b.State())
	}
	if !b.Allow() {
		t.Error("half-open should allow one probe")
	}
	if b.Allow() {
		t.Error("half-open should allow only one probe")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("failed probe: got %s", b.State())
	}

	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected probe after second cooldown")
	}
	b.RecordSuccess()
	if b.State() != StateClosed || !b.Allow() {
		t.Errorf("successful probe: got %s", b.State())
	}
}

func TestPool_DrainsOnStop(t *testing.T) {
	in := &ingress{}
	server := httptest.NewServer(in)
	defer server.Close()

	f, err := NewForwarder(server.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	p := NewPool(1, 16, f, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	for i := 0; i < 5; i++ {
		if !p.Submit(event(t, "x")) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	// Cancelling the parent context must not lose what is queued.
	cancel()
	p.Stop()

	if n := len(in.received()); n != 5 {
		t.Errorf("ingress received %d events, want 5", n)
	}
	if p.Submit(event(t, "late")) {
		t.Error("submit after stop should be rejected")
	}
	p.Stop()
}

func TestPool_CountsEventsShedWhileCircuitOpen(t *testing.T) {
	in := &ingress{status: http.StatusServiceUnavailable}
	server := httptest.NewServer(in)
	defer server.Close()

	f, err := NewForwarder(server.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	p := NewPool(1, 16, f, testLogger())
	p.Start(context.Background())

	for i := 0; i < defaultFailureThreshold+3; i++ {
		if !p.Submit(event(t, "x")) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	p.Stop()

	if got := p.Failed(); got != defaultFailureThreshold {
		t.Errorf("failed: got %d, want %d", got, defaultFailureThreshold)
	}
	if got := p.Shed(); got != 3 {
		t.Errorf("shed: got %d, want 3", got)
	}
	if n := len(in.received()); n != defaultFailureThreshold {
		t.Errorf("ingress saw %d requests, want %d", n, defaultFailureThreshold)
	}
}
