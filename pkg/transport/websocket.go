package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketOps implements the WEBSOCKET transport by wrapping a
// *websocket.Conn in a net.Conn-shaped adapter so the rest of the stack
// never has to special-case it.
type WebSocketOps struct {
	dialer websocket.Dialer
}

// NewWebSocket builds the well-known "WEBSOCKET" transport.
func NewWebSocket() *Transport {
	return &Transport{
		Name: "WEBSOCKET",
		ID:   TypeWebSocket,
		Kind: KindTCP,
		Ops:  &WebSocketOps{dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second}},
	}
}

func (w *WebSocketOps) Init(cfg map[string]string) error { return nil }
func (w *WebSocketOps) Deinit() error                     { return nil }

func (w *WebSocketOps) GetCapabilities() Capabilities {
	return CapReliable | CapOrdered | CapConnectionOriented
}

func (w *WebSocketOps) StagePrepare(ctx context.Context, p Params) (*Result, error) {
	scheme := "ws"
	if p.TLS {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s:%d/", scheme, p.Host, p.Port)
	conn, _, err := w.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport/websocket: dial %s: %w", url, err)
	}
	return &Result{Conn: wsConn{conn}}, nil
}

func (w *WebSocketOps) Connect(ctx context.Context, r *Result) (net.Conn, error) { return r.Conn, nil }

func (w *WebSocketOps) Accept(ctx context.Context, listener net.Listener) (net.Conn, error) {
	return nil, fmt.Errorf("transport/websocket: accept handled by the HTTP upgrade handler, not a net.Listener")
}

func (w *WebSocketOps) Read(conn net.Conn, buf []byte) (int, error)  { return conn.Read(buf) }
func (w *WebSocketOps) Write(conn net.Conn, buf []byte) (int, error) { return conn.Write(buf) }
func (w *WebSocketOps) Close(conn net.Conn) error                    { return conn.Close() }

// wsConn adapts *websocket.Conn to net.Conn using binary messages as the
// stream's framing unit.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) Read(b []byte) (int, error) {
	_, data, err := c.Conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

func (c wsConn) Write(b []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}

// Upgrader is the websocket.Upgrader AcceptHTTPUpgrade uses to accept
// inbound WebSocket streams.
var Upgrader = websocket.Upgrader{}

// AcceptHTTPUpgrade upgrades an inbound HTTP request to a wsConn.
func AcceptHTTPUpgrade(w http.ResponseWriter, r *http.Request) (net.Conn, error) {
	c, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return wsConn{c}, nil
}
