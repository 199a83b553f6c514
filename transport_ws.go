package amqp

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to net.Conn, reassembling the connection's
// binary message stream into a contiguous byte stream the frame reader can
// consume a header or body at a time (spec.md §4.3 "wss transport").
type wsConn struct {
	*websocket.Conn
	current io.Reader
}

// dialWebSocket dials a ws:// or wss:// URL using the "amqp" subprotocol, as
// required by the AMQP-over-WebSockets binding.
func dialWebSocket(ctx context.Context, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	dialer := &websocket.Dialer{
		Subprotocols:     []string{"amqp"},
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsCfg,
	}
	c, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{Conn: c}, nil
}

// Read satisfies net.Conn by draining the current WebSocket message before
// pulling the next one; a frame body may span, or several frames may share,
// a single WebSocket message.
func (w *wsConn) Read(p []byte) (int, error) {
	for {
		if w.current == nil {
			mt, r, err := w.Conn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			w.current = r
		}
		n, err := w.current.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			w.current = nil
			if err != io.EOF {
				return 0, err
			}
			continue
		}
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) SetDeadline(t time.Time) error {
	if err := w.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.Conn.SetWriteDeadline(t)
}
