package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrChannelClosed indicates the peer closed the connection or the
// channel was shut down. Fatal to the session: no reconnect is attempted.
var ErrChannelClosed = errors.New("transport channel closed")

// ErrWriteFailed indicates a failed or partial write. The frame must be
// treated as not delivered; this layer never retries a partial frame.
var ErrWriteFailed = errors.New("transport write failed")

// Channel is one duplex byte stream carrying encoded frames. Send may be
// called concurrently with Recv (the two directions of the link) and
// concurrently with itself; implementations serialize writers so frames
// never interleave on the wire.
type Channel interface {
	// Send writes one encoded frame. The frame is either delivered
	// whole or reported failed.
	Send(frame []byte) error

	// Recv blocks until at least one byte is available and returns the
	// number of bytes read into buf. Closure surfaces as
	// ErrChannelClosed.
	Recv(buf []byte) (int, error)

	// Close releases the underlying connection. Safe to call twice.
	Close() error

	// LocalAddr returns the local endpoint of the channel.
	LocalAddr() net.Addr

	// RemoteAddr returns the peer endpoint of the channel.
	RemoteAddr() net.Addr
}

// TCPChannel owns exactly one TCP connection. The connection is an
// explicit resource: opened by TCPListener.Accept/DialTCP (or passed to
// NewChannel), closed once on session end or fatal error.
type TCPChannel struct {
	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewChannel wraps an established duplex connection. Used directly in
// tests with net.Pipe and by custom transports.
func NewChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{conn: conn}
}

// TCPListener accepts the single peer connection of a receiving-role
// session on a fixed port.
type TCPListener struct {
	ln net.Listener
}

// NewTCPListener binds the bridge port for the receiving role.
func NewTCPListener(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "NewTCPListener",
		"addr":     ln.Addr().String(),
	}).Info("Listening for bridge peer")
	return &TCPListener{ln: ln}, nil
}

// Addr returns the bound listen address.
func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for exactly one peer, then closes the listener. The
// session owns a single duplex connection; there is no second accept.
func (l *TCPListener) Accept(ctx context.Context) (*TCPChannel, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.ln.Close()
		case <-done:
		}
	}()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	l.ln.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Accept",
		"peer":     conn.RemoteAddr().String(),
	}).Info("Bridge peer connected")

	return NewChannel(conn), nil
}

// Close shuts the listener down without accepting.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}

// DialTCP connects to the bridge for the sending role.
func DialTCP(ctx context.Context, addr string) (*TCPChannel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "DialTCP",
		"addr":     addr,
		"local":    conn.LocalAddr().String(),
	}).Info("Connected to bridge")

	return NewChannel(conn), nil
}

// Send writes one frame under the write lock so concurrent senders never
// interleave bytes within a frame.
func (c *TCPChannel) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.conn.Write(frame)
	if err != nil {
		if isClosed(err) {
			return fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, n, len(frame))
	}
	return nil
}

// Recv blocks until data arrives or the connection closes.
func (c *TCPChannel) Recv(buf []byte) (int, error) {
	n, err := c.conn.Read(buf)
	if err != nil {
		if isClosed(err) {
			return n, fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}
		return n, err
	}
	if n == 0 {
		return 0, ErrChannelClosed
	}
	return n, nil
}

// Close releases the connection exactly once.
func (c *TCPChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"local":    c.conn.LocalAddr().String(),
		}).Debug("Channel closed")
	})
	return c.closeErr
}

// LocalAddr returns the local endpoint.
func (c *TCPChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer endpoint.
func (c *TCPChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// isClosed reports whether err means the duplex stream is gone.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
