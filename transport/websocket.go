package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/orbitgrid/satlink/frame"
)

// WSChannel carries frames over a WebSocket connection, one frame per
// binary message. WebSocket message boundaries match the bridge
// protocol's one-read-one-frame assumption exactly, so no length
// prefixing is needed on this transport.
type WSChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  frame.MaxFrameLen,
	WriteBufferSize: frame.MaxFrameLen,
	// The bridge peers authenticate at the link layer, not by origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSListener accepts the single WebSocket peer of a receiving-role session.
type WSListener struct {
	ln     net.Listener
	srv    *http.Server
	connCh chan *websocket.Conn
}

// NewWSListener binds addr and serves WebSocket upgrades on path.
func NewWSListener(addr, path string) (*WSListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	l := &WSListener{
		ln:     ln,
		connCh: make(chan *websocket.Conn, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewWSListener",
				"remote":   r.RemoteAddr,
				"error":    err.Error(),
			}).Warn("WebSocket upgrade failed")
			return
		}
		select {
		case l.connCh <- conn:
		default:
			// A peer is already connected; one duplex stream per session.
			conn.Close()
		}
	})

	l.srv = &http.Server{Handler: mux}
	go l.srv.Serve(ln)

	logrus.WithFields(logrus.Fields{
		"function": "NewWSListener",
		"addr":     ln.Addr().String(),
		"path":     path,
	}).Info("Listening for WebSocket bridge peer")

	return l, nil
}

// Addr returns the bound listen address.
func (l *WSListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for exactly one upgraded peer, then stops serving. The
// upgraded connection is hijacked from the server and survives its close.
func (l *WSListener) Accept(ctx context.Context) (*WSChannel, error) {
	select {
	case conn := <-l.connCh:
		l.srv.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Accept",
			"peer":     conn.RemoteAddr().String(),
		}).Info("WebSocket bridge peer connected")
		return &WSChannel{conn: conn}, nil
	case <-ctx.Done():
		l.srv.Close()
		return nil, ctx.Err()
	}
}

// Close stops serving without accepting.
func (l *WSListener) Close() error {
	return l.srv.Close()
}

// DialWS connects to a WebSocket bridge endpoint, e.g.
// "ws://127.0.0.1:8129/link".
func DialWS(ctx context.Context, url string) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "DialWS",
		"url":      url,
	}).Info("Connected to WebSocket bridge")

	return &WSChannel{conn: conn}, nil
}

// Send writes one frame as a single binary message.
func (c *WSChannel) Send(frameBytes []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frameBytes); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Recv blocks for the next binary message and copies it into buf.
func (c *WSChannel) Recv(buf []byte) (int, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	if len(msg) > len(buf) {
		return 0, fmt.Errorf("%w: message of %d bytes exceeds buffer", ErrWriteFailed, len(msg))
	}
	return copy(buf, msg), nil
}

// Close sends a close frame on a best-effort basis and releases the
// connection exactly once.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// LocalAddr returns the local endpoint.
func (c *WSChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer endpoint.
func (c *WSChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
