package main

import (
	"context"
	"log/slog"

	"github.com/Priya8975/clipboard-relay/internal/api"
	"github.com/Priya8975/clipboard-relay/internal/domain"
	"github.com/Priya8975/clipboard-relay/internal/peer"
)

// peerLink is the part of the peer manager the node uses.
type peerLink interface {
	Send(ev domain.Event) error
	State() peer.State
	RemoteAddr() string
	Stats() peer.Stats
}

// submitter queues events for the ingress forwarder.
type submitter interface {
	Submit(ev domain.Event) bool
}

// node publishes locally produced events to the receiver and, when
// configured, to the relay ingress.
type node struct {
	link    peerLink
	forward submitter
	stamper *domain.Stamper
	localIP string
	logger  *slog.Logger
}

var _ api.SenderNode = (*node)(nil)

// Publish stamps d, sends it to the receiver and queues it for forwarding.
// A failed peer send is returned even when the event was forwarded.
func (n *node) Publish(_ context.Context, d domain.Draft) (domain.Event, error) {
	ev, err := n.stamper.Stamp(d)
	if err != nil {
		return domain.Event{}, err
	}

	sendErr := n.link.Send(ev)
	if sendErr != nil {
		n.logger.Warn("event not sent to receiver", "event_id", ev.ID, "kind", ev.Kind, "error", sendErr)
	} else {
		n.logger.Debug("event sent", "event_id", ev.ID, "kind", ev.Kind, "origin", ev.Origin)
	}

	n.submit(ev)
	return ev, sendErr
}

func (n *node) submit(ev domain.Event) {
	if n.forward == nil {
		return
	}
	if !n.forward.Submit(ev) {
		n.logger.Warn("event not forwarded", "event_id", ev.ID)
	}
}

func (n *node) Status() api.SenderStatus {
	state := n.link.State()
	return api.SenderStatus{
		Connected:    state == peer.StateConnected,
		State:        state.String(),
		ReceiverAddr: n.link.RemoteAddr(),
		LocalIP:      n.localIP,
		Forwarding:   n.forward != nil,
		Peer:         n.link.Stats(),
	}
}
