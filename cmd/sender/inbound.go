package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

const clipboardWriteTimeout = 2 * time.Second

type clipboardWriter interface {
	Write(ctx context.Context, text string) error
}

// inboundHandler applies messages the receiver sends back to us.
type inboundHandler struct {
	clipboard clipboardWriter
	node      *node
	logger    *slog.Logger
}

func (h *inboundHandler) Handle(in domain.Inbound) {
	logger := h.logger.With("kind", in.Kind, "wire_type", in.WireType, "origin", in.Origin)

	switch in.Kind {
	case domain.KindScreenshot:
		// No screenshot sink on this side; pass it on to the ingress only.
		ev, err := h.node.stamper.Stamp(in.Draft)
		if err != nil {
			logger.Warn("dropping inbound screenshot", "error", err)
			return
		}
		if h.node.forward == nil {
			logger.Info("inbound screenshot ignored, no ingress configured", "event_id", ev.ID)
			return
		}
		h.node.submit(ev)

	default:
		if in.WireType == domain.WireTypeMessage {
			logger.Info("message from receiver", "length", len(in.Payload))
		}
		ctx, cancel := context.WithTimeout(context.Background(), clipboardWriteTimeout)
		defer cancel()
		if err := h.clipboard.Write(ctx, in.Payload); err != nil {
			logger.Warn("clipboard write failed", "error", err)
			return
		}
		logger.Debug("clipboard updated from receiver", "length", len(in.Payload))
	}
}
