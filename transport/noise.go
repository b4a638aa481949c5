package transport

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/orbitgrid/satlink/frame"
)

// noiseSuite is the cipher suite used on encrypted links.
var noiseSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// noiseOverhead is the AEAD tag appended to every encrypted frame.
const noiseOverhead = 16

// GenerateNoiseKeypair creates a static Curve25519 keypair for a noise
// channel endpoint.
func GenerateNoiseKeypair() (noise.DHKey, error) {
	return noiseSuite.GenerateKeypair(rand.Reader)
}

// NoiseChannel wraps any Channel with Noise-XX encryption. The handshake
// runs synchronously over the inner channel during construction, before
// the first frame; afterwards every Send encrypts one frame into one
// transport message and every Recv decrypts one.
//
// The AEAD tag costs noiseOverhead bytes per frame, so frames within
// noiseOverhead of MaxFrameLen cannot be carried on an encrypted link.
// Configured MTUs are far below that bound.
type NoiseChannel struct {
	inner   Channel
	send    *noise.CipherState
	recv    *noise.CipherState
	writeMu sync.Mutex
	readMu  sync.Mutex
	scratch []byte
}

// NewNoiseChannel performs the XX handshake over inner in the given role
// and returns the encrypted channel. Both endpoints must construct their
// NoiseChannel before any frame traffic flows.
func NewNoiseChannel(inner Channel, static noise.DHKey, initiator bool) (*NoiseChannel, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, fmt.Errorf("noise handshake state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewNoiseChannel",
		"initiator": initiator,
	}).Info("Starting noise handshake")

	buf := make([]byte, frame.MaxFrameLen)
	var cs1, cs2 *noise.CipherState
	for i := 0; cs1 == nil; i++ {
		if (i%2 == 0) == initiator {
			msg, c1, c2, err := hs.WriteMessage(nil, nil)
			if err != nil {
				return nil, fmt.Errorf("noise handshake write: %w", err)
			}
			if err := inner.Send(msg); err != nil {
				return nil, fmt.Errorf("noise handshake send: %w", err)
			}
			cs1, cs2 = c1, c2
		} else {
			n, err := inner.Recv(buf)
			if err != nil {
				return nil, fmt.Errorf("noise handshake recv: %w", err)
			}
			_, c1, c2, err := hs.ReadMessage(nil, buf[:n])
			if err != nil {
				return nil, fmt.Errorf("noise handshake read: %w", err)
			}
			cs1, cs2 = c1, c2
		}
	}

	nc := &NoiseChannel{
		inner:   inner,
		scratch: make([]byte, frame.MaxFrameLen+noiseOverhead),
	}
	// Split convention: cs1 encrypts initiator-to-responder traffic.
	if initiator {
		nc.send, nc.recv = cs1, cs2
	} else {
		nc.send, nc.recv = cs2, cs1
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewNoiseChannel",
		"initiator": initiator,
	}).Info("Noise handshake complete")

	return nc, nil
}

// Send encrypts one frame and writes it to the inner channel.
func (c *NoiseChannel) Send(frameBytes []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ct, err := c.send.Encrypt(nil, nil, frameBytes)
	if err != nil {
		return fmt.Errorf("%w: encrypt: %v", ErrWriteFailed, err)
	}
	return c.inner.Send(ct)
}

// Recv reads one encrypted message and decrypts it into buf.
func (c *NoiseChannel) Recv(buf []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	n, err := c.inner.Recv(c.scratch)
	if err != nil {
		return 0, err
	}

	pt, err := c.recv.Decrypt(nil, nil, c.scratch[:n])
	if err != nil {
		return 0, fmt.Errorf("decrypt frame: %w", err)
	}
	if len(pt) > len(buf) {
		return 0, fmt.Errorf("decrypted frame of %d bytes exceeds read buffer", len(pt))
	}
	return copy(buf, pt), nil
}

// Close closes the inner channel.
func (c *NoiseChannel) Close() error {
	return c.inner.Close()
}

// LocalAddr returns the inner channel's local endpoint.
func (c *NoiseChannel) LocalAddr() net.Addr {
	return c.inner.LocalAddr()
}

// RemoteAddr returns the inner channel's peer endpoint.
func (c *NoiseChannel) RemoteAddr() net.Addr {
	return c.inner.RemoteAddr()
}
