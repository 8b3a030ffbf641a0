// Package websocket serves the receiver's persistent connections: observer
// push clients and the inbound sender peer.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Priya8975/clipboard-relay/internal/broker"
	"github.com/Priya8975/clipboard-relay/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	observerBuffer     = 256
	peerBuffer         = 64
	maxObserverMessage = 512
	// Screenshots travel base64-encoded in a single frame.
	maxPeerMessage = 32 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // observers are served to any local page
	},
}

// Hub attaches websocket connections to a broker.
type Hub struct {
	broker *broker.Broker
	logger *slog.Logger

	malformed atomic.Int64
}

// NewHub creates a hub serving connections for b.
func NewHub(b *broker.Broker, logger *slog.Logger) *Hub {
	return &Hub{broker: b, logger: logger.With("component", "websocket")}
}

// Malformed returns how many peer frames were dropped as malformed.
func (h *Hub) Malformed() int64 {
	return h.malformed.Load()
}

// HandleObserver upgrades the request and registers an observer.
func (h *Hub) HandleObserver(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	h.serveObserver(conn)
}

// HandlePeer upgrades the request and serves it as the sender. A client
// announcing itself as an observer is served as one instead.
func (h *Hub) HandlePeer(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if r.Header.Get(domain.RoleHeader) == domain.RoleObserver {
		h.serveObserver(conn)
		return
	}

	link := &peerLink{
		hub:  h,
		conn: conn,
		addr: conn.RemoteAddr().String(),
		send: make(chan []byte, peerBuffer),
	}
	if err := h.broker.AttachSender(link); err != nil {
		h.logger.Warn("rejecting sender", "remote_addr", link.addr, "error", err)
		conn.Close()
		return
	}

	go link.writePump()
	go link.readPump()
}

func (h *Hub) serveObserver(conn *websocket.Conn) {
	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, observerBuffer),
	}
	if err := h.broker.Join(c); err != nil {
		h.logger.Warn("observer join failed", "error", err)
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// client is an observer connection.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *client) ID() string { return c.id }

// Enqueue never blocks. A full buffer means the client is too slow.
func (c *client) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close ends the write pump, which sends a close frame.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump only services control frames and detects disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.broker.Leave(c.id)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxObserverMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	writePump(c.conn, c.send)
}

// peerLink is the connection from the sender node.
type peerLink struct {
	hub  *Hub
	conn *websocket.Conn
	addr string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var (
	errLinkClosed = errors.New("sender connection closed")
	errLinkBusy   = errors.New("sender send buffer full")
)

func (l *peerLink) Send(ev domain.Event) error {
	data, err := domain.EncodeMessage(ev)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errLinkClosed
	}
	select {
	case l.send <- data:
		return nil
	default:
		return errLinkBusy
	}
}

func (l *peerLink) RemoteAddr() string { return l.addr }

func (l *peerLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.send)
	}
	return nil
}

// readPump ingests every well-formed frame in order. Malformed frames are
// dropped and the connection stays open.
func (l *peerLink) readPump() {
	logger := l.hub.logger.With("remote_addr", l.addr)
	defer func() {
		l.hub.broker.DetachSender(l)
		l.Close()
		l.conn.Close()
	}()

	l.conn.SetReadLimit(maxPeerMessage)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("sender connection error", "error", err)
			}
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(pongWait))

		in, err := domain.DecodeMessage(data)
		if err != nil {
			l.hub.malformed.Add(1)
			logger.Warn("dropping malformed message", "error", err, "size", len(data))
			continue
		}

		if _, err := l.hub.broker.Submit(context.Background(), in.Draft); err != nil {
			if errors.Is(err, broker.ErrClosed) {
				return
			}
			logger.Warn("ingest failed", "error", err, "wire_type", in.WireType)
		}
	}
}

func (l *peerLink) writePump() {
	writePump(l.conn, l.send)
}

// writePump drains send onto conn and pings every pingPeriod. It sends a
// close frame once send is closed.
func writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
