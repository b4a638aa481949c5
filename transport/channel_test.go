package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeChannels() (*TCPChannel, *TCPChannel) {
	a, b := net.Pipe()
	return NewChannel(a), NewChannel(b)
}

func TestChannelSendRecv(t *testing.T) {
	left, right := pipeChannels()
	defer left.Close()
	defer right.Close()

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	go func() {
		assert.NoError(t, left.Send(payload))
	}()

	buf := make([]byte, 64)
	n, err := right.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestChannelRecvAfterPeerClose(t *testing.T) {
	left, right := pipeChannels()
	defer right.Close()

	require.NoError(t, left.Close())

	buf := make([]byte, 16)
	_, err := right.Recv(buf)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelSendAfterClose(t *testing.T) {
	left, right := pipeChannels()
	right.Close()
	left.Close()

	err := left.Send([]byte{0x01})
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelCloseIdempotent(t *testing.T) {
	left, right := pipeChannels()
	defer right.Close()

	assert.NoError(t, left.Close())
	assert.NoError(t, left.Close())
}

// Concurrent senders must not interleave bytes within a frame. With
// net.Pipe each Write pairs with one Read, so checking that every read
// yields one intact message is sufficient.
func TestChannelConcurrentSend(t *testing.T) {
	left, right := pipeChannels()
	defer left.Close()
	defer right.Close()

	const senders = 4
	const perSender = 25
	msg := func(id int) []byte {
		m := make([]byte, 32)
		for i := range m {
			m[i] = byte(id)
		}
		return m
	}

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				assert.NoError(t, left.Send(msg(id)))
			}
		}(s)
	}

	buf := make([]byte, 32)
	for i := 0; i < senders*perSender; i++ {
		n, err := right.Recv(buf)
		require.NoError(t, err)
		require.Equal(t, 32, n)
		for _, b := range buf[1:n] {
			require.Equal(t, buf[0], b, "interleaved frame bytes")
		}
	}
	wg.Wait()
}

func TestTCPListenerAcceptAndDial(t *testing.T) {
	l, err := NewTCPListener("127.0.0.1:0")
	require.NoError(t, err)

	type acceptResult struct {
		ch  *TCPChannel
		err error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		ch, err := l.Accept(context.Background())
		accepted <- acceptResult{ch, err}
	}()

	dialed, err := DialTCP(context.Background(), l.Addr().String())
	require.NoError(t, err)
	defer dialed.Close()

	res := <-accepted
	require.NoError(t, res.err)
	defer res.ch.Close()

	go func() {
		assert.NoError(t, dialed.Send([]byte("ping")))
	}()
	buf := make([]byte, 16)
	n, err := res.ch.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	// Duplex: the accepted side answers on the same connection.
	go func() {
		assert.NoError(t, res.ch.Send([]byte("pong")))
	}()
	n, err = dialed.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestTCPListenerAcceptCancelled(t *testing.T) {
	l, err := NewTCPListener("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialTCPRefused(t *testing.T) {
	// A listener bound and closed immediately leaves a port nothing
	// listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialTCP(context.Background(), addr)
	assert.Error(t, err)
}
