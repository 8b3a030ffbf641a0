package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Priya8975/clipboard-relay/internal/domain"
	"github.com/Priya8975/clipboard-relay/internal/forward"
)

func setupMock(t *testing.T) (*mockIngress, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	m := &mockIngress{slow: 50 * time.Millisecond, logger: logger}
	srv := httptest.NewServer(m.router())
	t.Cleanup(srv.Close)
	return m, srv
}

func forwardTo(t *testing.T, url string) *forward.Forwarder {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	f, err := forward.NewForwarder(url, time.Second, logger)
	if err != nil {
		t.Fatalf("forwarder: %v", err)
	}
	return f
}

func stamp(t *testing.T) domain.Event {
	t.Helper()
	ev, err := domain.NewStamper(nil).Stamp(domain.Draft{Kind: domain.KindText, Payload: "hi", Origin: domain.OriginManual})
	if err != nil {
		t.Fatalf("stamp: %v", err)
	}
	return ev
}

func TestMockIngress_Endpoints(t *testing.T) {
	m, srv := setupMock(t)

	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/success", false},
		{"/slow", false},
		{"/fail", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := forwardTo(t, srv.URL+tt.path).Forward(context.Background(), stamp(t))
			if (err != nil) != tt.wantErr {
				t.Errorf("forward: got %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if got := m.requests.Load(); got != 3 {
		t.Errorf("requests: got %d", got)
	}
	if got := m.accepted.Load(); got != 2 {
		t.Errorf("accepted: got %d", got)
	}
}

func TestMockIngress_FlakyFailsEveryThird(t *testing.T) {
	_, srv := setupMock(t)
	f := forwardTo(t, srv.URL+"/flaky")

	var failures int
	for i := 0; i < 6; i++ {
		if err := f.Forward(context.Background(), stamp(t)); err != nil {
			failures++
		}
	}
	if failures != 2 {
		t.Errorf("failures: got %d, want 2", failures)
	}
}
