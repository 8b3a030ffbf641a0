// Package forward posts events produced on the sender node to a relay's
// ingress API, off the peer send path.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

var ErrCircuitOpen = errors.New("ingress circuit open")

const defaultTimeout = 10 * time.Second

// Submission is the ingress API request body.
type Submission struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Filename string `json:"filename,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Forwarder sends events to <ingress>/events.
type Forwarder struct {
	httpClient *http.Client
	endpoint   string
	breaker    *Breaker
	logger     *slog.Logger
}

// NewForwarder validates ingressURL and builds a forwarder for it.
func NewForwarder(ingressURL string, timeout time.Duration, logger *slog.Logger) (*Forwarder, error) {
	u, err := url.Parse(ingressURL)
	if err != nil {
		return nil, fmt.Errorf("parsing ingress url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ingress url %q: scheme must be http or https", ingressURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger = logger.With("component", "forwarder")

	return &Forwarder{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   strings.TrimRight(ingressURL, "/") + "/events",
		breaker:    NewBreaker(0, 0, logger),
		logger:     logger,
	}, nil
}

// Endpoint returns the URL events are posted to.
func (f *Forwarder) Endpoint() string { return f.endpoint }

// Breaker exposes the forwarder's circuit breaker.
func (f *Forwarder) Breaker() *Breaker { return f.breaker }

// Forward posts ev and expects 201 Created.
func (f *Forwarder) Forward(ctx context.Context, ev domain.Event) error {
	if !f.breaker.Allow() {
		f.logger.Debug("forward skipped, circuit open", "event_id", ev.ID, "endpoint", f.endpoint)
		return ErrCircuitOpen
	}

	start := time.Now()
	err := f.post(ctx, ev)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		f.breaker.RecordFailure()
		f.logger.Warn("forward failed",
			"event_id", ev.ID,
			"kind", string(ev.Kind),
			"error", err,
			"response_time_ms", elapsed,
		)
		return err
	}

	f.breaker.RecordSuccess()
	f.logger.Info("event forwarded",
		"event_id", ev.ID,
		"kind", string(ev.Kind),
		"response_time_ms", elapsed,
	)
	return nil
}

func (f *Forwarder) post(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(Submission{
		Type:     string(ev.Kind),
		Content:  ev.Payload,
		Filename: ev.Filename,
		Source:   ev.Origin,
	})
	if err != nil {
		return fmt.Errorf("encoding submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Relay-Event", ev.ID)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body (limit to 1KB to prevent memory issues)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("ingress returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
