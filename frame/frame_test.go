package frame

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t := time.Unix(0x65A1B2C3, 0)
	return func() time.Time { return t }
}

// TestEncodeLayout verifies every header byte lands at its wire offset.
func TestEncodeLayout(t *testing.T) {
	enc := NewEncoder()
	enc.SetTimeSource(fixedClock())

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf, err := enc.Encode(101, 0x8180, payload)
	require.NoError(t, err)
	require.Len(t, buf, HeaderLen+len(payload))

	assert.Equal(t, Preamble[:], buf[0:4])
	assert.Equal(t, byte(SOF1), buf[4])
	assert.Equal(t, byte(SOF2), buf[5])
	assert.Equal(t, byte(ControlUplink), buf[6])
	assert.Equal(t, uint32(0x65A1B2C3), binary.LittleEndian.Uint32(buf[7:11]))
	assert.Equal(t, byte(0x27), buf[11], "sequence must be little-endian")
	assert.Equal(t, byte(0x01), buf[12])
	assert.Equal(t, DefaultSatelliteID, buf[13])
	assert.Equal(t, DefaultGroundID, buf[14])
	assert.Equal(t, DefaultQoSMarker, buf[15])
	assert.Equal(t, DefaultSourceID, buf[16])
	assert.Equal(t, byte(0x80), buf[17], "destination id must be little-endian")
	assert.Equal(t, byte(0x81), buf[18])
	assert.Equal(t, DefaultRoutingMapID, buf[19])
	assert.Equal(t, byte(101), buf[20])
	assert.Equal(t, byte(0x04), buf[23], "payload length LSB at offset 23")
	assert.Equal(t, byte(0x00), buf[24], "payload length MSB at offset 24")
	assert.Equal(t, payload, buf[25:])
}

// TestRoundTrip checks decode(encode(...)) recovers the inputs byte-for-byte.
func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		tcTmID  uint8
		destID  uint16
		payload []byte
	}{
		{"empty payload", 100, 0x0001, []byte{}},
		{"single byte", 107, 0x8180, []byte{0xFF}},
		{"downlink control", 101, 0x8180, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}},
		{"mtu sized", 104, 0x8086, bytes.Repeat([]byte{0xA5}, 1350)},
		{"max payload", 105, 0xFFFF, bytes.Repeat([]byte{0x5A}, MaxPayloadLen)},
	}

	enc := NewEncoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := enc.Encode(tt.tcTmID, tt.destID, tt.payload)
			require.NoError(t, err)

			f, err := Parse(buf)
			require.NoError(t, err)

			assert.Equal(t, tt.tcTmID, f.TcTmID)
			assert.Equal(t, tt.destID, f.DestinationID)
			assert.Equal(t, len(tt.payload), len(f.Payload))
			assert.True(t, bytes.Equal(tt.payload, f.Payload))
			assert.Equal(t, DefaultQoSMarker, f.SrcDstID)
			assert.Equal(t, DefaultSequence, f.Sequence)
		})
	}
}

// TestEncodeBoundary pins the exact threshold for ErrPayloadTooLarge.
func TestEncodeBoundary(t *testing.T) {
	enc := NewEncoder()

	buf, err := enc.Encode(100, 0x8180, make([]byte, MaxPayloadLen))
	require.NoError(t, err, "payload at the boundary must succeed")
	assert.Len(t, buf, MaxFrameLen)

	_, err = enc.Encode(100, 0x8180, make([]byte, MaxPayloadLen+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

// TestParseTooShort rejects every truncation below the header size.
func TestParseTooShort(t *testing.T) {
	enc := NewEncoder()
	full, err := enc.Encode(101, 0x8180, []byte{0x01, 0x02})
	require.NoError(t, err)

	for n := 0; n < HeaderLen; n++ {
		_, err := Parse(full[:n])
		assert.ErrorIs(t, err, ErrFrameTooShort, "truncation length %d", n)
	}
}

// TestParseTenByteBuffer covers the short-buffer case seen on the link when
// a fragment arrives: well below the header, must fail without panicking.
func TestParseTenByteBuffer(t *testing.T) {
	buf := []byte{0x98, 0xBA, 0x76, 0x00, 0xA5, 0xAA, 0xB0, 0x01, 0x02, 0x03}
	require.Len(t, buf, 10)

	f, err := Parse(buf)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestParseBadPreamble(t *testing.T) {
	enc := NewEncoder()
	buf, err := enc.Encode(101, 0x8180, []byte{0x01})
	require.NoError(t, err)

	corrupt := append([]byte(nil), buf...)
	corrupt[0] = 0x00
	_, err = Parse(corrupt)
	assert.ErrorIs(t, err, ErrFieldOutOfRange)

	corrupt = append([]byte(nil), buf...)
	corrupt[4] = 0x5A
	_, err = Parse(corrupt)
	assert.ErrorIs(t, err, ErrFieldOutOfRange)
}

func TestParseLengthMismatch(t *testing.T) {
	enc := NewEncoder()
	buf, err := enc.Encode(101, 0x8180, []byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)

	// Declared length larger than the bytes present.
	over := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint16(over[23:25], 500)
	_, err = Parse(over)
	assert.ErrorIs(t, err, ErrFieldOutOfRange)

	// Declared length smaller than the bytes present.
	under := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint16(under[23:25], 1)
	_, err = Parse(under)
	assert.ErrorIs(t, err, ErrFieldOutOfRange)
}

// TestParseOwnsPayload ensures the decoded payload does not alias the
// input buffer, which the receive loop reuses between reads.
func TestParseOwnsPayload(t *testing.T) {
	enc := NewEncoder()
	buf, err := enc.Encode(101, 0x8180, []byte{0x11, 0x22, 0x33})
	require.NoError(t, err)

	f, err := Parse(buf)
	require.NoError(t, err)

	buf[HeaderLen] = 0xEE
	assert.Equal(t, byte(0x11), f.Payload[0])
}

func TestEncodeNotIdempotent(t *testing.T) {
	enc := NewEncoder()
	t1 := time.Unix(1000, 0)
	t2 := time.Unix(2000, 0)

	enc.SetTimeSource(func() time.Time { return t1 })
	a, err := enc.Encode(101, 0x8180, []byte{0x01})
	require.NoError(t, err)

	enc.SetTimeSource(func() time.Time { return t2 })
	b, err := enc.Encode(101, 0x8180, []byte{0x01})
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a, b), "timestamp must differ between encodes")
}
