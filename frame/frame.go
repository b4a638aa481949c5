// Package frame implements encoding and decoding of the SatOS transport
// frame that carries File Transfer Module (FTM) payloads between a ground
// application and the satellite link bridge.
//
// Every frame is a fixed 25-byte header followed by a variable-length
// payload. The header carries the sync preamble, a control byte, a
// little-endian timestamp, routing identifiers and a little-endian payload
// length. The codec is pure: it performs no I/O and keeps no state beyond
// the per-session header constants held by an Encoder.
//
// Example:
//
//	enc := frame.NewEncoder()
//	buf, err := enc.Encode(101, 0x8180, payload)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	f, err := frame.Parse(buf)
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPayloadTooLarge indicates the payload would not fit in a single frame.
var ErrPayloadTooLarge = errors.New("payload too large for frame")

// ErrFrameTooShort indicates a buffer smaller than the fixed header.
var ErrFrameTooShort = errors.New("frame too short")

// ErrFieldOutOfRange indicates a decoded header field outside the bounds
// the wire format defines.
var ErrFieldOutOfRange = errors.New("frame field out of range")

const (
	// HeaderLen is the fixed header size in bytes. The payload length
	// field sits at offsets 23-24 and the payload starts at offset 25.
	HeaderLen = 25

	// MaxFrameLen bounds header plus payload.
	MaxFrameLen = 65535

	// MaxPayloadLen is the largest payload a single frame can carry.
	MaxPayloadLen = MaxFrameLen - HeaderLen
)

// Preamble is the fixed sync sequence at the start of every frame.
var Preamble = [4]byte{0x98, 0xBA, 0x76, 0x00}

const (
	// SOF1 and SOF2 are the start-of-frame marker bytes at offsets 4 and 5.
	SOF1 = 0xA5
	SOF2 = 0xAA

	// ControlUplink marks telecommand traffic from the ground application.
	ControlUplink = 0xB0
	// ControlDownlink marks telemetry traffic toward the ground station.
	ControlDownlink = 0x40
)

// Header constants used by the flight drivers. An Encoder is seeded with
// these and callers override per session where the link requires it.
const (
	DefaultSequence     uint16 = 0x0127
	DefaultSatelliteID  byte   = 0x00
	DefaultGroundID     byte   = 0x00
	DefaultQoSMarker    byte   = 0x03
	DefaultSourceID     byte   = 0x01
	DefaultRoutingMapID byte   = 0x04
	DefaultReserved     uint16 = 0x0001
)

// Frame is one decoded transport frame. Payload is an owned copy; the
// frame holds no reference to the buffer it was parsed from.
type Frame struct {
	Control   byte
	Timestamp uint32
	Sequence  uint16

	SatelliteID byte
	GroundID    byte
	// SrcDstID is written as the QoS marker on transmit and read back as
	// the source/destination application id on receive.
	SrcDstID      byte
	SourceID      byte
	DestinationID uint16
	RoutingMapID  byte

	// TcTmID is the logical channel id carried at offset 20.
	TcTmID byte

	Reserved uint16
	Payload  []byte
}

// Encoder builds outbound frames from a set of per-session header
// constants. The zero value is not usable; construct with NewEncoder.
type Encoder struct {
	Control      byte
	Sequence     uint16
	SatelliteID  byte
	GroundID     byte
	QoSMarker    byte
	SourceID     byte
	RoutingMapID byte
	Reserved     uint16

	// now supplies the timestamp field; replaced in tests.
	now func() time.Time
}

// NewEncoder returns an Encoder seeded with the uplink driver constants.
func NewEncoder() *Encoder {
	return &Encoder{
		Control:      ControlUplink,
		Sequence:     DefaultSequence,
		SatelliteID:  DefaultSatelliteID,
		GroundID:     DefaultGroundID,
		QoSMarker:    DefaultQoSMarker,
		SourceID:     DefaultSourceID,
		RoutingMapID: DefaultRoutingMapID,
		Reserved:     DefaultReserved,
		now:          time.Now,
	}
}

// SetTimeSource replaces the clock used for the timestamp field. Intended
// for deterministic tests.
func (e *Encoder) SetTimeSource(now func() time.Time) {
	e.now = now
}

// Encode builds a complete frame around payload. The timestamp captures
// wall-clock time at encode time, so two encodes of identical inputs at
// different instants produce different bytes.
//
// Encode fails with ErrPayloadTooLarge when HeaderLen+len(payload) would
// exceed MaxFrameLen; the boundary value itself succeeds.
func (e *Encoder) Encode(tcTmID uint8, destID uint16, payload []byte) ([]byte, error) {
	if HeaderLen+len(payload) > MaxFrameLen {
		logrus.WithFields(logrus.Fields{
			"function":    "Encode",
			"tc_tm_id":    tcTmID,
			"payload_len": len(payload),
			"max_payload": MaxPayloadLen,
		}).Error("Payload exceeds maximum frame size")
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderLen+len(payload))
	copy(buf[0:4], Preamble[:])
	buf[4] = SOF1
	buf[5] = SOF2
	buf[6] = e.Control
	binary.LittleEndian.PutUint32(buf[7:11], uint32(e.now().Unix()))
	binary.LittleEndian.PutUint16(buf[11:13], e.Sequence)
	buf[13] = e.SatelliteID
	buf[14] = e.GroundID
	buf[15] = e.QoSMarker
	buf[16] = e.SourceID
	binary.LittleEndian.PutUint16(buf[17:19], destID)
	buf[19] = e.RoutingMapID
	buf[20] = tcTmID
	binary.LittleEndian.PutUint16(buf[21:23], e.Reserved)
	binary.LittleEndian.PutUint16(buf[23:25], uint16(len(payload)))
	copy(buf[HeaderLen:], payload)

	return buf, nil
}

// Parse decodes one frame from data. The buffer must hold exactly one
// frame: the declared payload length has to match the bytes present.
//
// Parse validates the sync bytes and the length field only. Range checks
// on the logical channel id and payload bounds belong to the receive loop.
func Parse(data []byte) (*Frame, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrFrameTooShort, len(data), HeaderLen)
	}

	if [4]byte(data[0:4]) != Preamble || data[4] != SOF1 || data[5] != SOF2 {
		return nil, fmt.Errorf("%w: bad preamble % X", ErrFieldOutOfRange, data[0:6])
	}

	payloadLen := binary.LittleEndian.Uint16(data[23:25])
	if int(payloadLen) != len(data)-HeaderLen {
		return nil, fmt.Errorf("%w: declared payload length %d, %d bytes present",
			ErrFieldOutOfRange, payloadLen, len(data)-HeaderLen)
	}

	f := &Frame{
		Control:       data[6],
		Timestamp:     binary.LittleEndian.Uint32(data[7:11]),
		Sequence:      binary.LittleEndian.Uint16(data[11:13]),
		SatelliteID:   data[13],
		GroundID:      data[14],
		SrcDstID:      data[15],
		SourceID:      data[16],
		DestinationID: binary.LittleEndian.Uint16(data[17:19]),
		RoutingMapID:  data[19],
		TcTmID:        data[20],
		Reserved:      binary.LittleEndian.Uint16(data[21:23]),
		Payload:       make([]byte, payloadLen),
	}
	copy(f.Payload, data[HeaderLen:])

	return f, nil
}
