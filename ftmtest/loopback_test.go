package ftmtest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitgrid/satlink/ftm"
)

// wirePair connects two loopbacks back to back: everything one
// transmits is parsed by the other, with an optional tap in between.
func wirePair(t *testing.T, sender, receiver *Loopback, tap func(payload []byte) []byte) {
	t.Helper()

	require.NoError(t, sender.RegisterTransmitter(func(tcTmID, srcDstID uint16, payload []byte) error {
		if tap != nil {
			payload = tap(payload)
		}
		if payload != nil {
			receiver.ParsePayload(uint8(tcTmID), uint8(srcDstID), payload)
		}
		return nil
	}))
	require.NoError(t, receiver.RegisterTransmitter(func(tcTmID, srcDstID uint16, payload []byte) error {
		sender.ParsePayload(uint8(tcTmID), uint8(srcDstID), payload)
		return nil
	}))
}

func writeTempFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestLoopbackTransferSuccess(t *testing.T) {
	sender := NewLoopback()
	receiver := NewLoopback()
	wirePair(t, sender, receiver, nil)

	path, data := writeTempFile(t, 5000)
	storage := t.TempDir()

	require.NoError(t, sender.Init())
	require.NoError(t, sender.SetAppID(137))
	require.NoError(t, sender.SetMTU(1350))
	require.NoError(t, sender.SetSenderFile(path))

	require.NoError(t, receiver.Init())
	require.NoError(t, receiver.SetAppID(137))
	require.NoError(t, receiver.SetReceiverStoragePath(storage))

	var senderStatus, receiverStatus ftm.Status
	var dl *ftm.DownloadInfo
	require.NoError(t, sender.RegisterSenderApp(137, func(n *ftm.Notification) {
		senderStatus = n.Status
	}))
	require.NoError(t, receiver.RegisterReceiverApp(137, func(n *ftm.Notification) {
		receiverStatus = n.Status
		dl = n.Download
	}))

	require.NoError(t, sender.TransferRequest(ftm.RequestStartTransmission, 0))

	assert.Equal(t, ftm.StatusUploadSuccess, senderStatus)
	assert.Equal(t, ftm.StatusDownloadSuccess, receiverStatus)

	require.NotNil(t, dl)
	assert.Equal(t, uint32(len(data)), dl.Size)

	files := receiver.Received()
	require.Len(t, files, 1)
	stored, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, stored))
}

func TestLoopbackCorruptedSegment(t *testing.T) {
	sender := NewLoopback()
	receiver := NewLoopback()

	// Flip a data byte in the first data segment.
	corrupted := false
	wirePair(t, sender, receiver, func(payload []byte) []byte {
		if !corrupted && payload[0] == opData && len(payload) > segHeaderLen {
			payload[segHeaderLen] ^= 0xFF
			corrupted = true
		}
		return payload
	})

	path, _ := writeTempFile(t, 1000)
	storage := t.TempDir()

	require.NoError(t, sender.Init())
	require.NoError(t, sender.SetAppID(137))
	require.NoError(t, sender.SetSenderFile(path))
	require.NoError(t, receiver.Init())
	require.NoError(t, receiver.SetAppID(137))
	require.NoError(t, receiver.SetReceiverStoragePath(storage))

	var senderStatus, receiverStatus ftm.Status
	require.NoError(t, sender.RegisterSenderApp(137, func(n *ftm.Notification) {
		senderStatus = n.Status
	}))
	require.NoError(t, receiver.RegisterReceiverApp(137, func(n *ftm.Notification) {
		receiverStatus = n.Status
	}))

	require.NoError(t, sender.TransferRequest(ftm.RequestStartTransmission, 0))

	assert.Equal(t, ftm.StatusCRCError, receiverStatus)
	assert.Equal(t, ftm.StatusCRCError, senderStatus)
	assert.Empty(t, receiver.Received())
}

func TestLoopbackDroppedSegment(t *testing.T) {
	sender := NewLoopback()
	receiver := NewLoopback()

	dropped := false
	wirePair(t, sender, receiver, func(payload []byte) []byte {
		if !dropped && payload[0] == opData {
			dropped = true
			return nil
		}
		return payload
	})

	path, _ := writeTempFile(t, 4000)
	storage := t.TempDir()

	require.NoError(t, sender.Init())
	require.NoError(t, sender.SetAppID(42))
	require.NoError(t, sender.SetMTU(1024))
	require.NoError(t, sender.SetSenderFile(path))
	require.NoError(t, receiver.Init())
	require.NoError(t, receiver.SetAppID(42))
	require.NoError(t, receiver.SetReceiverStoragePath(storage))

	var receiverStatus ftm.Status
	require.NoError(t, receiver.RegisterReceiverApp(42, func(n *ftm.Notification) {
		receiverStatus = n.Status
	}))
	require.NoError(t, sender.RegisterSenderApp(42, func(n *ftm.Notification) {}))

	require.NoError(t, sender.TransferRequest(ftm.RequestStartTransmission, 0))

	assert.Equal(t, ftm.StatusCRCError, receiverStatus)
}

func TestLoopbackTerminate(t *testing.T) {
	sender := NewLoopback()
	receiver := NewLoopback()
	wirePair(t, sender, receiver, nil)

	require.NoError(t, sender.Init())
	require.NoError(t, sender.SetAppID(7))
	require.NoError(t, receiver.Init())
	require.NoError(t, receiver.SetAppID(7))

	var senderStatus, receiverStatus ftm.Status
	require.NoError(t, sender.RegisterSenderApp(7, func(n *ftm.Notification) {
		senderStatus = n.Status
	}))
	require.NoError(t, receiver.RegisterReceiverApp(7, func(n *ftm.Notification) {
		receiverStatus = n.Status
	}))

	require.NoError(t, sender.TransferRequest(ftm.RequestTerminate, 0))

	assert.Equal(t, ftm.StatusTerminatedByTxNode, senderStatus)
	assert.Equal(t, ftm.StatusTerminatedByTxNode, receiverStatus)
}

func TestLoopbackRequestErrors(t *testing.T) {
	lb := NewLoopback()

	err := lb.TransferRequest(ftm.RequestStartTransmission, 0)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, lb.Init())
	err = lb.TransferRequest(ftm.RequestStartTransmission, 0)
	assert.ErrorIs(t, err, ErrNoTransmitter)

	require.NoError(t, lb.RegisterTransmitter(func(tcTmID, srcDstID uint16, payload []byte) error {
		return nil
	}))
	err = lb.TransferRequest(ftm.RequestStartTransmission, 0)
	assert.ErrorIs(t, err, ErrNoSenderFile)

	err = lb.TransferRequest(ftm.RequestSuspendTimeout, 30)
	assert.ErrorIs(t, err, ErrUnsupportedRequest)
}

func TestLoopbackSetterValidation(t *testing.T) {
	lb := NewLoopback()

	assert.Error(t, lb.SetMTU(segHeaderLen))
	assert.Error(t, lb.SetSenderFile(filepath.Join(t.TempDir(), "missing.bin")))
	assert.Error(t, lb.SetReceiverStoragePath(filepath.Join(t.TempDir(), "missing")))

	file, _ := writeTempFile(t, 10)
	assert.Error(t, lb.SetReceiverStoragePath(file))
}

func TestDecodeSegment(t *testing.T) {
	_, _, err := decodeSegment([]byte{opData, 1, 0})
	assert.ErrorIs(t, err, ErrSegmentTooShort)

	// Declared data length beyond the payload.
	bad := []byte{opData, 1, 0, 0, 1, 0, 0xFF, 0x00}
	_, _, err = decodeSegment(bad)
	assert.Error(t, err)
}

func TestLoopbackMalformedPayloadIgnored(t *testing.T) {
	lb := NewLoopback()
	require.NoError(t, lb.Init())

	// Too short, and an unknown opcode: both must be dropped silently.
	lb.ParsePayload(101, 137, []byte{0x01})
	lb.ParsePayload(101, 137, []byte{0x7F, 0, 0, 0, 0, 0, 0, 0})
}
