package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/clipboard-relay/internal/broker"
	"github.com/Priya8975/clipboard-relay/internal/capability"
	"github.com/Priya8975/clipboard-relay/internal/discovery"
	"github.com/Priya8975/clipboard-relay/internal/domain"
	ws "github.com/Priya8975/clipboard-relay/internal/websocket"
)

// DashboardHandler serves the receiver's observer-facing endpoints.
type DashboardHandler struct {
	broker        *broker.Broker
	hub           *ws.Hub
	screenshots   *capability.Dir
	peerPath      string
	discoveryPort int
}

func NewDashboardHandler(b *broker.Broker, hub *ws.Hub, shots *capability.Dir, peerPath string, discoveryPort int) *DashboardHandler {
	return &DashboardHandler{
		broker:        b,
		hub:           hub,
		screenshots:   shots,
		peerPath:      peerPath,
		discoveryPort: discoveryPort,
	}
}

// Data returns the buffered history, oldest first.
func (h *DashboardHandler) Data(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.broker.History())
}

type statusResponse struct {
	broker.Stats
	LocalIP         string `json:"local_ip"`
	PeerPath        string `json:"peer_path"`
	DiscoveryPort   int    `json:"discovery_port"`
	MalformedFrames int64  `json:"malformed_frames"`
}

func (h *DashboardHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Stats:         h.broker.Stats(),
		LocalIP:       discovery.LocalIP(),
		PeerPath:      h.peerPath,
		DiscoveryPort: h.discoveryPort,
	}
	if h.hub != nil {
		resp.MalformedFrames = h.hub.Malformed()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Screenshot serves a persisted screenshot by name.
func (h *DashboardHandler) Screenshot(w http.ResponseWriter, r *http.Request) {
	if h.screenshots == nil {
		respondError(w, http.StatusNotFound, "screenshots are not stored on this node")
		return
	}

	f, info, err := h.screenshots.Open(chi.URLParam(r, "filename"))
	switch {
	case errors.Is(err, capability.ErrInvalidName):
		respondError(w, http.StatusBadRequest, "invalid filename")
		return
	case errors.Is(err, fs.ErrNotExist):
		respondError(w, http.StatusNotFound, "screenshot not found")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to open screenshot")
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

type sendToSenderRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// SendToSender pushes text back to the connected sender node.
func (h *DashboardHandler) SendToSender(w http.ResponseWriter, r *http.Request) {
	var req sendToSenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	ev, err := h.broker.SendToSender(r.Context(), domain.Draft{
		Kind:    domain.KindText,
		Payload: req.Text,
		Origin:  domain.OriginManual,
	})
	switch {
	case errors.Is(err, broker.ErrNotConnected):
		respondError(w, http.StatusServiceUnavailable, "sender not connected")
		return
	case err != nil:
		respondSubmitError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sendResponse{Status: "sent", ID: ev.ID})
}
