// Command mock-endpoints is a stand-in relay ingress for exercising the
// sender's forwarder: one healthy, one slow, one failing and one flaky
// events endpoint.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Priya8975/clipboard-relay/internal/forward"
)

type mockIngress struct {
	requests atomic.Int64
	accepted atomic.Int64
	slow     time.Duration
	logger   *slog.Logger
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	m := &mockIngress{slow: 3 * time.Second, logger: logger}

	logger.Info("mock ingress starting", "port", port,
		"routes", []string{"/success/events", "/slow/events", "/fail/events", "/flaky/events", "/stats"})

	if err := http.ListenAndServe(":"+port, m.router()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (m *mockIngress) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/success/events", func(w http.ResponseWriter, r *http.Request) {
		m.accept(w, r)
	})

	r.Post("/slow/events", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(m.slow):
		case <-r.Context().Done():
			return
		}
		m.accept(w, r)
	})

	r.Post("/fail/events", func(w http.ResponseWriter, r *http.Request) {
		m.reject(w, r)
	})

	// Every third request fails.
	r.Post("/flaky/events", func(w http.ResponseWriter, r *http.Request) {
		if m.requests.Load()%3 == 2 {
			m.reject(w, r)
			return
		}
		m.accept(w, r)
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int64{
			"total_requests": m.requests.Load(),
			"accepted":       m.accepted.Load(),
		})
	})

	return r
}

func (m *mockIngress) accept(w http.ResponseWriter, r *http.Request) {
	count := m.requests.Add(1)

	var sub forward.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		m.log(r, count, http.StatusBadRequest, sub)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	m.accepted.Add(1)
	m.log(r, count, http.StatusCreated, sub)
	writeJSON(w, http.StatusCreated, map[string]string{"id": r.Header.Get("X-Relay-Event")})
}

func (m *mockIngress) reject(w http.ResponseWriter, r *http.Request) {
	count := m.requests.Add(1)
	m.log(r, count, http.StatusInternalServerError, forward.Submission{})
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func (m *mockIngress) log(r *http.Request, count int64, status int, sub forward.Submission) {
	m.logger.Info("request",
		"n", count,
		"path", r.URL.Path,
		"status", status,
		"event_id", truncate(r.Header.Get("X-Relay-Event"), 8),
		"type", sub.Type,
		"source", sub.Source,
		"content", truncate(sub.Content, 32),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
