package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Broadcast resolves a service by sending a discover datagram to the subnet
// broadcast address and waiting for the first matching response.
type Broadcast struct {
	Port int
	// BroadcastAddr overrides the computed directed broadcast address.
	BroadcastAddr string
	Role          string
	Logger        *slog.Logger
}

// Resolve returns host:port of the first responder advertising service.
// The socket is always released, including on timeout and cancellation.
func (b Broadcast) Resolve(ctx context.Context, service string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := loggerOrDefault(b.Logger)

	target := b.BroadcastAddr
	if target == "" {
		target = BroadcastAddress()
	}
	port := b.Port
	if port == 0 {
		port = DefaultPort
	}
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return "", fmt.Errorf("resolving broadcast address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return "", fmt.Errorf("opening discovery socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("setting discovery deadline: %w", err)
	}

	// Unblock the read when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	req, err := json.Marshal(Request{Type: requestType, Service: service, From: b.Role})
	if err != nil {
		return "", fmt.Errorf("encoding discover request: %w", err)
	}
	if _, err := conn.WriteToUDP(req, dst); err != nil {
		return "", fmt.Errorf("sending discover request: %w", err)
	}
	logger.Debug("discover request sent", "service", service, "target", dst.String())

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", fmt.Errorf("%w: no response for %q after %s", ErrTimeout, service, timeout)
			}
			return "", fmt.Errorf("reading discover response: %w", err)
		}

		var resp Response
		if err := json.Unmarshal(buf[:n], &resp); err != nil {
			logger.Debug("ignoring undecodable datagram", "from", from.String(), "error", err)
			continue
		}
		if resp.Service != service || resp.Port <= 0 {
			logger.Debug("ignoring response for other service", "from", from.String(), "service", resp.Service)
			continue
		}

		addr := net.JoinHostPort(from.IP.String(), strconv.Itoa(resp.Port))
		logger.Info("service discovered", "service", service, "address", addr, "advertised_ip", resp.IP)
		return addr, nil
	}
}

// Responder answers discover requests for a single service.
type Responder struct {
	Service string
	// Port is the advertised peer port.
	Port int
	// IP is the advertised address; empty means LocalIP().
	IP     string
	Logger *slog.Logger
}

// ListenAndServe binds the discovery port on all interfaces and serves
// until ctx is done.
func (r *Responder) ListenAndServe(ctx context.Context, port int) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return fmt.Errorf("listening on discovery port %d: %w", port, err)
	}
	return r.Serve(ctx, conn)
}

// Serve answers requests on conn until ctx is done. It closes conn.
func (r *Responder) Serve(ctx context.Context, conn *net.UDPConn) error {
	logger := loggerOrDefault(r.Logger)
	ip := r.IP
	if ip == "" {
		ip = LocalIP()
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	logger.Info("discovery responder started", "address", conn.LocalAddr().String(), "service", r.Service)

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("discovery responder stopped")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("discovery read failed", "error", err)
			continue
		}

		var req Request
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			logger.Debug("ignoring undecodable datagram", "from", from.String(), "error", err)
			continue
		}
		if req.Type != requestType || req.Service != r.Service {
			continue
		}

		data, err := json.Marshal(Response{Service: r.Service, Port: r.Port, IP: ip})
		if err != nil {
			logger.Error("encoding discover response", "error", err)
			continue
		}
		if _, err := conn.WriteToUDP(data, from); err != nil {
			logger.Warn("discover response failed", "to", from.String(), "error", err)
			continue
		}
		logger.Info("answered discover request", "from", from.String(), "role", req.From)
	}
}
