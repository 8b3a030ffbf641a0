// Package peer maintains the sender's single logical connection to the
// receiver: resolve, connect, serve, and reconnect after a fixed backoff.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/clipboard-relay/internal/discovery"
	"github.com/Priya8975/clipboard-relay/internal/domain"
)

// Errors returned by Send.
var (
	ErrDropped = errors.New("peer not connected, message dropped")
	ErrClosed  = errors.New("peer manager closed")
)

// DefaultSendBuffer is the number of outbound frames a session queues.
const DefaultSendBuffer = 64

// Conn is an established message-oriented transport.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer performs the transport handshake with a resolved address.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Backoff holds the fixed retry delays for each failure kind.
type Backoff struct {
	ResolveRetry   time.Duration
	HandshakeRetry time.Duration
	ReconnectDelay time.Duration
}

// DefaultBackoff returns the standard retry delays.
func DefaultBackoff() Backoff {
	return Backoff{
		ResolveRetry:   5 * time.Second,
		HandshakeRetry: 5 * time.Second,
		ReconnectDelay: 3 * time.Second,
	}
}

// Config configures a Manager.
type Config struct {
	ServiceName      string
	Resolver         discovery.Resolver
	DiscoveryTimeout time.Duration
	Dialer           Dialer
	Backoff          Backoff
	SendBuffer       int
	Logger           *slog.Logger
}

type session struct {
	conn Conn
	out  chan []byte
}

// Manager owns the connection state machine for one peer.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	remoteAddr    string
	session       *session
	closed        bool
	handlers      []func(domain.Inbound)
	stateHandlers []func(State)

	decodeErrors atomic.Int64
	sent         atomic.Int64
	received     atomic.Int64
}

// NewManager creates a manager. Call Run to start connecting.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = discovery.DefaultTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	def := DefaultBackoff()
	if cfg.Backoff.ResolveRetry <= 0 {
		cfg.Backoff.ResolveRetry = def.ResolveRetry
	}
	if cfg.Backoff.HandshakeRetry <= 0 {
		cfg.Backoff.HandshakeRetry = def.HandshakeRetry
	}
	if cfg.Backoff.ReconnectDelay <= 0 {
		cfg.Backoff.ReconnectDelay = def.ReconnectDelay
	}

	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "peer", "service", cfg.ServiceName),
	}, nil
}

// OnReceive registers a handler for decoded inbound messages. Handlers
// run on the read loop, in arrival order.
func (m *Manager) OnReceive(h func(domain.Inbound)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// OnStateChange registers a handler called after every transition.
func (m *Manager) OnStateChange(h func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHandlers = append(m.stateHandlers, h)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RemoteAddr returns the resolved address, or "" before discovery succeeds.
func (m *Manager) RemoteAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteAddr
}

// Stats reports traffic counters.
type Stats struct {
	State        string `json:"state"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
	Sent         int64  `json:"sent"`
	Received     int64  `json:"received"`
	DecodeErrors int64  `json:"decode_errors"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state, addr := m.state, m.remoteAddr
	m.mu.Unlock()
	return Stats{
		State:        state.String(),
		RemoteAddr:   addr,
		Sent:         m.sent.Load(),
		Received:     m.received.Load(),
		DecodeErrors: m.decodeErrors.Load(),
	}
}

// Send transmits ev if the peer is connected. Nothing is queued while
// disconnected: the event is dropped and ErrDropped returned.
func (m *Manager) Send(ev domain.Event) error {
	data, err := domain.EncodeMessage(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.session == nil {
		return ErrDropped
	}
	select {
	case m.session.out <- data:
		return nil
	default:
		m.logger.Warn("send buffer full, dropping event", "event_id", ev.ID)
		return ErrDropped
	}
}

// Run drives the state machine until ctx is cancelled. Queued sends of a
// live session are flushed before the connection is closed.
func (m *Manager) Run(ctx context.Context) error {
	defer func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
	}()

	for ctx.Err() == nil {
		m.setRemoteAddr("")
		m.setState(StateResolving)

		addr, err := m.cfg.Resolver.Resolve(ctx, m.cfg.ServiceName, m.cfg.DiscoveryTimeout)
		if err != nil {
			m.setState(StateDisconnected)
			if ctx.Err() != nil {
				break
			}
			m.logger.Warn("resolve failed", "error", err, "retry_in", m.cfg.Backoff.ResolveRetry)
			sleepCtx(ctx, m.cfg.Backoff.ResolveRetry)
			continue
		}

		m.setRemoteAddr(addr)
		m.setState(StateConnecting)

		conn, err := m.cfg.Dialer.Dial(ctx, addr)
		if err != nil {
			m.setState(StateDisconnected)
			if ctx.Err() != nil {
				break
			}
			m.logger.Warn("handshake failed", "address", addr, "error", err, "retry_in", m.cfg.Backoff.HandshakeRetry)
			sleepCtx(ctx, m.cfg.Backoff.HandshakeRetry)
			continue
		}

		err = m.serve(ctx, conn)
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			break
		}
		m.logger.Warn("connection lost", "address", addr, "error", err, "retry_in", m.cfg.Backoff.ReconnectDelay)
		sleepCtx(ctx, m.cfg.Backoff.ReconnectDelay)
	}

	m.logger.Info("peer manager stopped")
	return nil
}

// serve runs one connected session and returns why it ended.
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	s := &session{conn: conn, out: make(chan []byte, m.cfg.SendBuffer)}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	m.setState(StateConnected)
	m.logger.Info("peer connected", "address", m.RemoteAddr())

	readErr := make(chan error, 1)
	go func() {
		readErr <- m.readLoop(conn)
	}()

	for {
		select {
		case data := <-s.out:
			if err := conn.Write(data); err != nil {
				m.detach(s)
				conn.Close()
				<-readErr
				return fmt.Errorf("write: %w", err)
			}
			m.sent.Add(1)

		case err := <-readErr:
			m.detach(s)
			conn.Close()
			return fmt.Errorf("read: %w", err)

		case <-ctx.Done():
			m.detach(s)
			m.flush(s)
			conn.Close()
			<-readErr
			return ctx.Err()
		}
	}
}

// flush writes whatever was queued before the session was detached.
func (m *Manager) flush(s *session) {
	for {
		select {
		case data := <-s.out:
			if err := s.conn.Write(data); err != nil {
				m.logger.Warn("flush failed", "error", err, "pending", len(s.out))
				return
			}
			m.sent.Add(1)
		default:
			return
		}
	}
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		data, err := conn.Read()
		if err != nil {
			return err
		}

		in, err := domain.DecodeMessage(data)
		if err != nil {
			m.decodeErrors.Add(1)
			m.logger.Warn("dropping malformed message", "error", err, "size", len(data))
			continue
		}
		m.received.Add(1)

		m.mu.Lock()
		handlers := slices.Clone(m.handlers)
		m.mu.Unlock()
		for _, h := range handlers {
			h(in)
		}
	}
}

// detach stops new sends from reaching s.
func (m *Manager) detach(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == s {
		m.session = nil
	}
}

func (m *Manager) setRemoteAddr(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteAddr = addr
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	handlers := slices.Clone(m.stateHandlers)
	m.mu.Unlock()

	m.logger.Debug("state changed", "from", prev.String(), "to", s.String())
	for _, h := range handlers {
		h(s)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
