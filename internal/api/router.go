package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Priya8975/clipboard-relay/internal/broker"
	"github.com/Priya8975/clipboard-relay/internal/capability"
	"github.com/Priya8975/clipboard-relay/internal/ratelimit"
	ws "github.com/Priya8975/clipboard-relay/internal/websocket"
)

// ReceiverDeps are the collaborators of the receiver's router.
type ReceiverDeps struct {
	Broker        *broker.Broker
	Hub           *ws.Hub
	Screenshots   *capability.Dir
	Limiter       ratelimit.Limiter
	PeerPath      string
	ObserverPath  string
	DiscoveryPort int
	PollLimit     int
}

func baseRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Use(corsMiddleware)
	return r
}

// NewReceiverRouter creates the receiver node's HTTP router: ingress API,
// observer endpoints and both websocket endpoints.
func NewReceiverRouter(d ReceiverDeps) http.Handler {
	r := baseRouter()

	if d.PeerPath == "" {
		d.PeerPath = "/peer"
	}
	if d.ObserverPath == "" {
		d.ObserverPath = "/ws"
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.Unlimited{}
	}

	eventHandler := NewEventHandler(d.Broker, d.PollLimit)
	dashHandler := NewDashboardHandler(d.Broker, d.Hub, d.Screenshots, d.PeerPath, d.DiscoveryPort)

	// WebSocket endpoints
	if d.Hub != nil {
		r.Get(d.ObserverPath, d.Hub.HandleObserver)
		r.Get(d.PeerPath, d.Hub.HandlePeer)
	}

	r.Route("/events", func(r chi.Router) {
		r.With(rateLimit(d.Limiter)).Post("/", eventHandler.Create)
		r.Get("/", eventHandler.List)
		r.Delete("/", eventHandler.Clear)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", HealthHandler("receiver"))
		r.Get("/data", dashHandler.Data)
		r.Get("/status", dashHandler.Status)
		r.Get("/screenshot/{filename}", dashHandler.Screenshot)
		r.Post("/send-to-sender", dashHandler.SendToSender)
	})

	return r
}

// NewSenderRouter creates the sender node's HTTP router.
func NewSenderRouter(node SenderNode) http.Handler {
	r := baseRouter()
	h := NewSenderHandler(node)

	r.Post("/send-message", h.SendMessage)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", HealthHandler("sender"))
		r.Get("/status", h.Status)
	})

	return r
}
