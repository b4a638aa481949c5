package transport

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/orbitgrid/satlink/frame"
)

// PayloadSink receives validated frame payloads from the receive loop.
// Production wiring forwards into the FTM's payload parser.
type PayloadSink interface {
	ParsePayload(tcTmID, srcDstID uint8, payload []byte)
}

// PayloadSinkFunc adapts a function to the PayloadSink interface.
type PayloadSinkFunc func(tcTmID, srcDstID uint8, payload []byte)

// ParsePayload implements PayloadSink.
func (f PayloadSinkFunc) ParsePayload(tcTmID, srcDstID uint8, payload []byte) {
	f(tcTmID, srcDstID, payload)
}

// Validation bounds the frames the receive loop accepts. Frames outside
// the bounds are dropped with a diagnostic, never forwarded.
type Validation struct {
	// TcTmMin and TcTmMax bound the logical channel id, inclusive.
	TcTmMin uint8
	TcTmMax uint8

	// PayloadMin and PayloadMax bound the payload length, inclusive.
	PayloadMin int
	PayloadMax int

	// ExpectedAppID, when nonzero, must match the frame's src/dst
	// marker byte.
	ExpectedAppID uint8
}

// DefaultValidation returns the downlink bounds used by the ground
// drivers: logical channels 100-107 and payloads of 8-1350 bytes.
func DefaultValidation() Validation {
	return Validation{
		TcTmMin:    100,
		TcTmMax:    107,
		PayloadMin: 8,
		PayloadMax: 1350,
	}
}

// check returns a reason string for rejected frames, empty on success.
func (v Validation) check(f *frame.Frame) string {
	if f.TcTmID < v.TcTmMin || f.TcTmID > v.TcTmMax {
		return "logical channel id out of range"
	}
	if len(f.Payload) < v.PayloadMin || len(f.Payload) > v.PayloadMax {
		return "payload length out of range"
	}
	if v.ExpectedAppID != 0 && f.SrcDstID != v.ExpectedAppID {
		return "src/dst id does not match application"
	}
	return ""
}

// ReceiveLoop continuously reads frames from a channel, decodes and
// validates them, and forwards accepted payloads to the sink. One loop
// per session, on its own goroutine.
type ReceiveLoop struct {
	ch   Channel
	sink PayloadSink
	val  Validation
}

// NewReceiveLoop builds a loop over ch that forwards into sink.
func NewReceiveLoop(ch Channel, sink PayloadSink, val Validation) *ReceiveLoop {
	return &ReceiveLoop{ch: ch, sink: sink, val: val}
}

// Run blocks, reading frames until the connection closes or ctx is
// cancelled. Per-frame errors (short reads, parse failures, validation
// rejects) are logged and skipped; only closure ends the loop.
//
// Cancelling ctx closes the channel to unblock the pending read and Run
// returns ctx.Err().
func (rl *ReceiveLoop) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rl.ch.Close()
		case <-done:
		}
	}()

	buf := make([]byte, frame.MaxFrameLen)
	for {
		n, err := rl.ch.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Run",
				}).Info("Receive loop cancelled")
				return ctx.Err()
			}
			if errors.Is(err, ErrChannelClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "Run",
				}).Error("Connection closed, receive loop terminating")
			} else {
				logrus.WithFields(logrus.Fields{
					"function": "Run",
					"error":    err.Error(),
				}).Error("Receive failed, receive loop terminating")
			}
			return err
		}

		rl.handleRead(buf[:n])
	}
}

// handleRead processes one transport read, which the bridge protocol
// guarantees to be one complete frame.
func (rl *ReceiveLoop) handleRead(data []byte) {
	if len(data) < frame.HeaderLen {
		logrus.WithFields(logrus.Fields{
			"function":   "handleRead",
			"read_bytes": len(data),
			"header_len": frame.HeaderLen,
		}).Warn("Discarding fragment shorter than frame header")
		return
	}

	f, err := frame.Parse(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleRead",
			"read_bytes": len(data),
			"error":      err.Error(),
		}).Warn("Discarding undecodable frame")
		return
	}

	if reason := rl.val.check(f); reason != "" {
		logrus.WithFields(logrus.Fields{
			"function":    "handleRead",
			"tc_tm_id":    f.TcTmID,
			"src_dst_id":  f.SrcDstID,
			"payload_len": len(f.Payload),
			"reason":      reason,
		}).Warn("Discarding frame that failed validation")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handleRead",
		"tc_tm_id":    f.TcTmID,
		"src_dst_id":  f.SrcDstID,
		"payload_len": len(f.Payload),
	}).Debug("Forwarding payload to parser")

	rl.sink.ParsePayload(f.TcTmID, f.SrcDstID, f.Payload)
}
