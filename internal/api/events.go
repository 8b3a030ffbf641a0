package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Priya8975/clipboard-relay/internal/broker"
	"github.com/Priya8975/clipboard-relay/internal/domain"
	"github.com/Priya8975/clipboard-relay/internal/store"
)

type EventHandler struct {
	broker       *broker.Broker
	defaultLimit int
}

func NewEventHandler(b *broker.Broker, defaultLimit int) *EventHandler {
	if defaultLimit <= 0 {
		defaultLimit = store.DefaultPollLimit
	}
	return &EventHandler{broker: b, defaultLimit: defaultLimit}
}

type createEventRequest struct {
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	Filename string          `json:"filename,omitempty"`
	Source   string          `json:"source,omitempty"`
}

type createEventResponse struct {
	ID string `json:"id"`
}

// Create ingests a submission from a capability provider.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var content string
	if len(req.Content) == 0 || json.Unmarshal(req.Content, &content) != nil {
		respondError(w, http.StatusBadRequest, "content must be a string")
		return
	}

	source := req.Source
	if source == "" {
		source = domain.OriginAPI
	}

	ev, err := h.broker.Submit(r.Context(), domain.Draft{
		Kind:     domain.KindFromWire(req.Type),
		Payload:  content,
		Filename: req.Filename,
		Origin:   source,
	})
	if err != nil {
		respondSubmitError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, createEventResponse{ID: ev.ID})
}

// List answers a poll: events created strictly after since, at most limit
// of the most recent ones.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an ISO 8601 timestamp")
			return
		}
		since = t
	}

	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	res, err := h.broker.Poll(r.Context(), since, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// Clear empties the history. For operational and test use.
func (h *EventHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.broker.Clear(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clear events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidEvent):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, broker.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		respondError(w, http.StatusInternalServerError, "failed to ingest event")
	}
}
