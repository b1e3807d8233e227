package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"shadowproxy/internal/xerrors"
)

// wsConn adapts a *websocket.Conn's message framing to the byte-stream
// Conn interface (spec §4.5 "WebSocket: binary frames map 1-to-1 with
// writes; read receives the next message; EOF = close frame"). Because
// protocol parsers are written against a plain byte stream, reads that
// don't consume a whole message are buffered across Read calls, and a
// logical handshake can straddle — or be batched into — any number of
// frames, which is the "framing neutrality" §4.5 requires.
type wsConn struct {
	conn     *websocket.Conn
	leftover []byte
}

func wrapWS(c *websocket.Conn) Conn {
	return &wsConn{conn: c}
}

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.leftover) == 0 {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		w.leftover = data
	}
	n := copy(p, w.leftover)
	w.leftover = w.leftover[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CanWriteEOF always reports false: a WebSocket close is a full close, not
// a half-close (spec §4.5).
func (w *wsConn) CanWriteEOF() bool { return false }

func (w *wsConn) CloseWriteEOF() error { return ErrHalfCloseUnsupported }

func (w *wsConn) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadlineNow())
	return w.conn.Close()
}

func (w *wsConn) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UpgradeWS upgrades an inbound HTTP(S) request at the route's configured
// path into a WS transport Conn. Used by the ws/wss inbound listener
// (which is an ordinary http.Server with this as its handler).
func UpgradeWS(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return wrapWS(c), nil
}

// DialWS connects to a ws:// or wss:// URL to establish the outbound half
// of a chained WS route.
func DialWS(ctx context.Context, url string, verifyTLS bool) (Conn, error) {
	dialer := websocket.Dialer{}
	if !verifyTLS {
		dialer.TLSClientConfig = insecureTLSConfig()
	}
	c, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, xerrors.New(xerrors.KindDial, "dial ws "+url, err)
	}
	return wrapWS(c), nil
}
