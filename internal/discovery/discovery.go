// Package discovery locates the receiver node for the sender, either from a
// fixed address or through a UDP broadcast request/response exchange.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	// DefaultPort is the UDP port the responder listens on.
	DefaultPort = 3005
	// DefaultTimeout bounds a broadcast resolution.
	DefaultTimeout = 5 * time.Second
	// DefaultServiceName is the tag the receiver answers to.
	DefaultServiceName = "clipboard-share-receiver"

	requestType = "discover"
	maxDatagram = 1024
)

// ErrTimeout is returned when no matching response arrives in time.
var ErrTimeout = errors.New("discovery timed out")

// Request is broadcast by the resolving side.
type Request struct {
	Type    string `json:"type"`
	Service string `json:"service"`
	From    string `json:"from"`
}

// Response is sent back by the responder.
type Response struct {
	Service string `json:"service"`
	Port    int    `json:"port"`
	IP      string `json:"ip"`
}

// Resolver turns a service name into a host:port address.
type Resolver interface {
	Resolve(ctx context.Context, service string, timeout time.Duration) (string, error)
}

// Static resolves every service to a preconfigured address.
type Static struct {
	Addr string
}

func (s Static) Resolve(ctx context.Context, _ string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Addr == "" {
		return "", errors.New("static resolver has no address")
	}
	return s.Addr, nil
}

// LocalIP returns the first private IPv4 address of an up, non-virtual
// interface, preferring wired and wireless adapters. It returns
// "localhost" when none is found.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "localhost"
	}

	var fallback string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || isVirtual(iface.Name) {
			continue
		}
		for _, ip := range ipv4Addrs(iface) {
			if !ip.IP.IsPrivate() {
				continue
			}
			if isPreferredInterface(iface.Name) {
				return ip.IP.String()
			}
			if fallback == "" {
				fallback = ip.IP.String()
			}
		}
	}

	if fallback != "" {
		return fallback
	}
	return "localhost"
}

// BroadcastAddress computes the directed broadcast address of the first
// usable IPv4 interface, falling back to the limited broadcast address.
func BroadcastAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return net.IPv4bcast.String()
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 || isVirtual(iface.Name) {
			continue
		}
		for _, ipnet := range ipv4Addrs(iface) {
			if len(ipnet.Mask) != net.IPv4len {
				continue
			}
			bcast := make(net.IP, net.IPv4len)
			for i := range bcast {
				bcast[i] = ipnet.IP[i] | ^ipnet.Mask[i]
			}
			return bcast.String()
		}
	}
	return net.IPv4bcast.String()
}

func ipv4Addrs(iface net.Interface) []net.IPNet {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}

	var out []net.IPNet
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipnet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		out = append(out, net.IPNet{IP: ip4, Mask: mask})
	}
	return out
}

func isVirtual(name string) bool {
	for _, prefix := range []string{"br-", "veth", "docker"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isPreferredInterface(name string) bool {
	for _, prefix := range []string{"wl", "eth", "en", "wifi"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
