package peer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

const (
	writeWait = 10 * time.Second
	// The receiver pings every 30s; a silent minute means the link is dead.
	readWait = 60 * time.Second
)

// WebsocketDialer connects to the receiver's peer endpoint.
type WebsocketDialer struct {
	Path             string
	Role             string
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: d.Path}

	role := d.Role
	if role == "" {
		role = domain.RoleSender
	}
	header := http.Header{}
	header.Set(domain.RoleHeader, role)

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", u.String(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", u.String(), err)
	}
	return newWSConn(conn), nil
}

type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return &wsConn{conn: conn}
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	return data, nil
}

func (c *wsConn) Write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
