package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Priya8975/clipboard-relay/internal/domain"
	"github.com/Priya8975/clipboard-relay/internal/peer"
)

// SenderStatus describes the sender node's link to the receiver.
type SenderStatus struct {
	Connected    bool       `json:"connected"`
	State        string     `json:"state"`
	ReceiverAddr string     `json:"receiver_addr,omitempty"`
	LocalIP      string     `json:"local_ip"`
	Forwarding   bool       `json:"forwarding"`
	Peer         peer.Stats `json:"peer"`
}

// SenderNode is what the sender's HTTP surface drives.
type SenderNode interface {
	Publish(ctx context.Context, d domain.Draft) (domain.Event, error)
	Status() SenderStatus
}

type SenderHandler struct {
	node SenderNode
}

func NewSenderHandler(node SenderNode) *SenderHandler {
	return &SenderHandler{node: node}
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage relays a manually typed message to the receiver.
func (h *SenderHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	ev, err := h.node.Publish(r.Context(), domain.Draft{
		Kind:    domain.KindText,
		Payload: req.Message,
		Origin:  domain.OriginManual,
	})
	switch {
	case errors.Is(err, peer.ErrDropped), errors.Is(err, peer.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "receiver not connected")
		return
	case errors.Is(err, domain.ErrInvalidEvent):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	respondJSON(w, http.StatusOK, sendResponse{Status: "sent", ID: ev.ID})
}

func (h *SenderHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.node.Status())
}
