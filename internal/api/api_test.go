package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Priya8975/clipboard-relay/internal/broker"
	"github.com/Priya8975/clipboard-relay/internal/capability"
	"github.com/Priya8975/clipboard-relay/internal/domain"
	"github.com/Priya8975/clipboard-relay/internal/peer"
	"github.com/Priya8975/clipboard-relay/internal/ratelimit"
	"github.com/Priya8975/clipboard-relay/internal/store"
	ws "github.com/Priya8975/clipboard-relay/internal/websocket"
)

const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

type receiverEnv struct {
	handler   http.Handler
	broker    *broker.Broker
	clipboard *capability.Memory
	shots     *capability.Dir
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupReceiver(t *testing.T, limiter ratelimit.Limiter) *receiverEnv {
	t.Helper()
	logger := testLogger()

	clip := &capability.Memory{}
	shots := capability.NewDirFs(afero.NewMemMapFs(), "/shots", logger)
	b := broker.New(broker.Config{
		Log:         store.NewMemoryLog(0),
		Clipboard:   clip,
		Screenshots: shots,
		Logger:      logger,
	})
	t.Cleanup(func() { b.Shutdown(context.Background()) })

	return &receiverEnv{
		handler: NewReceiverRouter(ReceiverDeps{
			Broker:        b,
			Hub:           ws.NewHub(b, logger),
			Screenshots:   shots,
			Limiter:       limiter,
			DiscoveryPort: 3005,
		}),
		broker:    b,
		clipboard: clip,
		shots:     shots,
	}
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreateEvent(t *testing.T) {
	env := setupReceiver(t, nil)

	rec := do(t, env.handler, http.MethodPost, "/events", map[string]string{
		"type":    "clipboard",
		"content": "copied",
		"source":  "clipboard-monitor",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[createEventResponse](t, rec)
	if resp.ID == "" {
		t.Error("expected an id")
	}

	hist := env.broker.History()
	if len(hist) != 1 || hist[0].ID != resp.ID || hist[0].Origin != "clipboard-monitor" {
		t.Errorf("history: %+v", hist)
	}
	if got, _ := env.clipboard.Read(context.Background()); got != "copied" || env.clipboard.Writes() != 1 {
		t.Errorf("clipboard: %q after %d writes", got, env.clipboard.Writes())
	}
}

func TestCreateEvent_Validation(t *testing.T) {
	env := setupReceiver(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"missing content", `{"type":"text"}`, http.StatusBadRequest},
		{"empty content", `{"type":"text","content":""}`, http.StatusBadRequest},
		{"object content", `{"type":"text","content":{"a":1}}`, http.StatusBadRequest},
		{"bad screenshot", `{"type":"screenshot","content":"%%%"}`, http.StatusBadRequest},
		{"unknown type is text", `{"type":"note","content":"x"}`, http.StatusCreated},
		{"generic message", `{"type":"message","content":"typed"}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, env.handler, http.MethodPost, "/events", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	for _, ev := range env.broker.History() {
		if ev.Kind != domain.KindText {
			t.Errorf("expected only text events in history, got %s", ev.Kind)
		}
	}
}

func TestCreateEvent_Screenshot(t *testing.T) {
	env := setupReceiver(t, nil)

	rec := do(t, env.handler, http.MethodPost, "/events", map[string]string{
		"type":     "screenshot",
		"content":  onePixelPNG,
		"filename": "desk.png",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, env.handler, http.MethodGet, "/api/screenshot/desk.png", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want, _ := base64.StdEncoding.DecodeString(onePixelPNG)
	if !bytes.Equal(rec.Body.Bytes(), want) {
		t.Error("served screenshot differs from submitted payload")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type: got %q", ct)
	}

	if rec := do(t, env.handler, http.MethodGet, "/api/screenshot/missing.png", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing screenshot: expected 404, got %d", rec.Code)
	}
}

func TestListEvents_Cursor(t *testing.T) {
	env := setupReceiver(t, nil)

	for _, c := range []string{"hello", "world"} {
		if rec := do(t, env.handler, http.MethodPost, "/events", map[string]string{"type": "text", "content": c}); rec.Code != http.StatusCreated {
			t.Fatalf("create: %d", rec.Code)
		}
	}
	first := env.broker.History()[0]

	since := first.CreatedAt.Format(time.RFC3339Nano)
	rec := do(t, env.handler, http.MethodGet, "/events?since="+since+"&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[store.PollResult](t, rec)
	if res.TotalCount != 2 {
		t.Errorf("totalCount: got %d, want 2", res.TotalCount)
	}
	if len(res.Events) != 1 || res.Events[0].Payload != "world" {
		t.Errorf("events: %+v", res.Events)
	}

	rec = do(t, env.handler, http.MethodGet, "/events", nil)
	if res := decode[store.PollResult](t, rec); len(res.Events) != 2 {
		t.Errorf("no cursor: got %d events", len(res.Events))
	}
}

func TestListEvents_DefaultLimitKeepsMostRecent(t *testing.T) {
	env := setupReceiver(t, nil)
	for i := 0; i < 15; i++ {
		do(t, env.handler, http.MethodPost, "/events", map[string]string{"type": "text", "content": string(rune('a' + i))})
	}

	res := decode[store.PollResult](t, do(t, env.handler, http.MethodGet, "/events?limit=bogus", nil))
	if len(res.Events) != store.DefaultPollLimit {
		t.Fatalf("expected %d events, got %d", store.DefaultPollLimit, len(res.Events))
	}
	if res.Events[0].Payload != "f" || res.Events[9].Payload != "o" {
		t.Errorf("expected the most recent events oldest first, got %q..%q", res.Events[0].Payload, res.Events[9].Payload)
	}
	if res.TotalCount != 15 {
		t.Errorf("totalCount: got %d", res.TotalCount)
	}
}

func TestListEvents_BadSince(t *testing.T) {
	env := setupReceiver(t, nil)
	if rec := do(t, env.handler, http.MethodGet, "/events?since=yesterday", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestClearEvents(t *testing.T) {
	env := setupReceiver(t, nil)
	do(t, env.handler, http.MethodPost, "/events", map[string]string{"type": "text", "content": "x"})

	if rec := do(t, env.handler, http.MethodDelete, "/events", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	res := decode[store.PollResult](t, do(t, env.handler, http.MethodGet, "/events", nil))
	if len(res.Events) != 0 || res.TotalCount != 0 {
		t.Errorf("after clear: %+v", res)
	}
	if data := decode[[]domain.Event](t, do(t, env.handler, http.MethodGet, "/api/data", nil)); len(data) != 0 {
		t.Errorf("history after clear: %d events", len(data))
	}
}

func TestCreateEvent_RateLimited(t *testing.T) {
	env := setupReceiver(t, ratelimit.NewLocal(1))
	body := map[string]string{"type": "text", "content": "x"}

	if rec := do(t, env.handler, http.MethodPost, "/events", body); rec.Code != http.StatusCreated {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := do(t, env.handler, http.MethodPost, "/events", body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", rec.Code)
	}
	if rec := do(t, env.handler, http.MethodGet, "/events", nil); rec.Code != http.StatusOK {
		t.Errorf("polling must not be rate limited, got %d", rec.Code)
	}
}

func TestStatusAndData(t *testing.T) {
	env := setupReceiver(t, nil)
	do(t, env.handler, http.MethodPost, "/events", map[string]string{"type": "text", "content": "x"})

	status := decode[statusResponse](t, do(t, env.handler, http.MethodGet, "/api/status", nil))
	if status.SenderConnected || status.HistorySize != 1 || status.PeerPath != "/peer" || status.DiscoveryPort != 3005 {
		t.Errorf("status: %+v", status)
	}

	data := decode[[]domain.Event](t, do(t, env.handler, http.MethodGet, "/api/data", nil))
	if len(data) != 1 || data[0].Payload != "x" {
		t.Errorf("data: %+v", data)
	}
}

func TestSendToSender_NotConnected(t *testing.T) {
	env := setupReceiver(t, nil)

	if rec := do(t, env.handler, http.MethodPost, "/api/send-to-sender", map[string]string{"text": "  "}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank text: expected 400, got %d", rec.Code)
	}
	if rec := do(t, env.handler, http.MethodPost, "/api/send-to-sender", map[string]string{"text": "hi"}); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no sender: expected 503, got %d", rec.Code)
	}
}

func TestHeartbeatAndHealth(t *testing.T) {
	env := setupReceiver(t, nil)
	if rec := do(t, env.handler, http.MethodGet, "/ping", nil); rec.Code != http.StatusOK {
		t.Errorf("ping: %d", rec.Code)
	}
	health := decode[HealthResponse](t, do(t, env.handler, http.MethodGet, "/api/health", nil))
	if health.Status != "healthy" || health.Node != "receiver" {
		t.Errorf("health: %+v", health)
	}
}

type fakeNode struct {
	err       error
	published []domain.Draft
}

func (n *fakeNode) Publish(ctx context.Context, d domain.Draft) (domain.Event, error) {
	if n.err != nil {
		return domain.Event{}, n.err
	}
	n.published = append(n.published, d)
	return domain.NewStamper(nil).Stamp(d)
}

func (n *fakeNode) Status() SenderStatus {
	return SenderStatus{Connected: n.err == nil, State: "connected", LocalIP: "127.0.0.1"}
}

func TestSenderRouter(t *testing.T) {
	node := &fakeNode{}
	h := NewSenderRouter(node)

	if rec := do(t, h, http.MethodPost, "/send-message", map[string]string{"message": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank message: expected 400, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/send-message", map[string]string{"message": "typed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(node.published) != 1 || node.published[0].Kind != domain.KindText || node.published[0].Origin != domain.OriginManual {
		t.Errorf("published: %+v", node.published)
	}

	node.err = peer.ErrDropped
	if rec := do(t, h, http.MethodPost, "/send-message", map[string]string{"message": "typed"}); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("dropped: expected 503, got %d", rec.Code)
	}

	status := decode[SenderStatus](t, do(t, h, http.MethodGet, "/api/status", nil))
	if status.Connected || status.State != "connected" {
		t.Errorf("status: %+v", status)
	}
}
