package ftmtest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orbitgrid/satlink/ftm"
)

// ErrNotInitialized indicates an operation before Init.
var ErrNotInitialized = errors.New("loopback service not initialized")

// ErrNoTransmitter indicates a transfer attempt with no transmitter registered.
var ErrNoTransmitter = errors.New("no transmitter registered")

// ErrNoSenderFile indicates a start request with no sender file configured.
var ErrNoSenderFile = errors.New("no sender file configured")

// ErrUnsupportedRequest indicates a transfer request the loopback does not model.
var ErrUnsupportedRequest = errors.New("unsupported transfer request")

// ErrSegmentTooShort indicates a payload below the segment header size.
var ErrSegmentTooShort = errors.New("segment shorter than header")

// Segment opcodes. Each loopback payload starts with an 8-byte segment
// header: opcode, file id, sequence (LE), total segments (LE), data
// length (LE).
const (
	opData      byte = 0x01
	opEnd       byte = 0x02
	opAck       byte = 0x03
	opTerminate byte = 0x04

	segHeaderLen = 8
)

// ack result codes carried in the first data byte of an opAck segment.
const (
	ackOK  byte = 0x00
	ackCRC byte = 0x01
)

// DefaultChannelID is the logical channel the loopback transmits on,
// inside the downlink channel range the receive loop accepts.
const DefaultChannelID uint16 = 101

// inbound tracks one file being reassembled on the receiving side.
type inbound struct {
	chunks map[uint16][]byte
	total  uint16
}

// Loopback is an in-process ftm.Service. One instance serves one role;
// pair two of them over a link to run a full transfer.
type Loopback struct {
	mu sync.Mutex

	initialized bool
	transmit    ftm.TransmitFunc
	senderFns   map[uint16]ftm.NotifyFunc
	receiverFns map[uint16]ftm.NotifyFunc

	appID       uint16
	channelID   uint16
	senderFile  string
	storagePath string
	mtu         uint16
	delay       time.Duration
	ackMode     ftm.AckMode
	fileID      uint8

	rxFiles  map[uint8]*inbound
	received []string
}

// NewLoopback returns an uninitialized loopback service.
func NewLoopback() *Loopback {
	return &Loopback{
		channelID:   DefaultChannelID,
		mtu:         1350,
		fileID:      1,
		senderFns:   make(map[uint16]ftm.NotifyFunc),
		receiverFns: make(map[uint16]ftm.NotifyFunc),
		rxFiles:     make(map[uint8]*inbound),
	}
}

// Init marks the service ready. The loopback has no processing context
// of its own; all work happens on the caller's goroutines.
func (lb *Loopback) Init() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.initialized = true
	return nil
}

// RegisterTransmitter implements ftm.Service.
func (lb *Loopback) RegisterTransmitter(fn ftm.TransmitFunc) error {
	if fn == nil {
		return errors.New("nil transmitter")
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.transmit = fn
	return nil
}

// RegisterSenderApp implements ftm.Service.
func (lb *Loopback) RegisterSenderApp(appID uint16, fn ftm.NotifyFunc) error {
	if fn == nil {
		return errors.New("nil notify callback")
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.senderFns[appID] = fn
	return nil
}

// RegisterReceiverApp implements ftm.Service.
func (lb *Loopback) RegisterReceiverApp(appID uint16, fn ftm.NotifyFunc) error {
	if fn == nil {
		return errors.New("nil notify callback")
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.receiverFns[appID] = fn
	return nil
}

// SetAppID implements ftm.Service.
func (lb *Loopback) SetAppID(appID uint16) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.appID = appID
	return nil
}

// SetSenderFile implements ftm.Service.
func (lb *Loopback) SetSenderFile(nameAndPath string) error {
	if _, err := os.Stat(nameAndPath); err != nil {
		return fmt.Errorf("sender file: %w", err)
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.senderFile = nameAndPath
	return nil
}

// SetReceiverStoragePath implements ftm.Service.
func (lb *Loopback) SetReceiverStoragePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("storage path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %s is not a directory", path)
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.storagePath = path
	return nil
}

// SetMTU implements ftm.Service.
func (lb *Loopback) SetMTU(size uint16) error {
	if size <= segHeaderLen {
		return fmt.Errorf("mtu %d leaves no room for segment data", size)
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.mtu = size
	return nil
}

// SetInterPacketDelay implements ftm.Service.
func (lb *Loopback) SetInterPacketDelay(ms uint16) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.delay = time.Duration(ms) * time.Millisecond
}

// SetAckMode implements ftm.Service.
func (lb *Loopback) SetAckMode(mode ftm.AckMode) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.ackMode = mode
	return nil
}

// SetFileID implements ftm.Service.
func (lb *Loopback) SetFileID(id uint8) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.fileID = id
}

// SetRxNodeConnFailureTime implements ftm.Service. The loopback does not
// model peer liveness; the value is accepted and ignored.
func (lb *Loopback) SetRxNodeConnFailureTime(seconds uint16) {}

// SetActivityCheckWindow implements ftm.Service. Accepted and ignored.
func (lb *Loopback) SetActivityCheckWindow(packets uint8) {}

// SetChannelID overrides the logical channel id used for outbound
// segments. Test-only knob, not part of ftm.Service.
func (lb *Loopback) SetChannelID(id uint16) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.channelID = id
}

// Received returns the paths of files stored so far, oldest first.
func (lb *Loopback) Received() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	out := make([]string, len(lb.received))
	copy(out, lb.received)
	return out
}

// TransferRequest implements ftm.Service. Start and terminate are
// modeled; the suspend/resume family is not.
func (lb *Loopback) TransferRequest(req ftm.Request, key uint32) error {
	lb.mu.Lock()
	if !lb.initialized {
		lb.mu.Unlock()
		return ErrNotInitialized
	}
	if lb.transmit == nil {
		lb.mu.Unlock()
		return ErrNoTransmitter
	}
	lb.mu.Unlock()

	switch req {
	case ftm.RequestStartTransmission:
		return lb.startTransmission()
	case ftm.RequestTerminate:
		return lb.terminate()
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedRequest, req)
	}
}

// startTransmission reads the configured file and streams it as data
// segments followed by an end segment carrying the checksum. It blocks
// until every segment is handed to the transmitter.
func (lb *Loopback) startTransmission() error {
	lb.mu.Lock()
	path := lb.senderFile
	mtu := lb.mtu
	delay := lb.delay
	fileID := lb.fileID
	lb.mu.Unlock()

	if path == "" {
		return ErrNoSenderFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sender file: %w", err)
	}

	chunkSize := int(mtu) - segHeaderLen
	total := (len(data) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}

	logrus.WithFields(logrus.Fields{
		"function": "startTransmission",
		"file":     path,
		"size":     len(data),
		"segments": total,
	}).Info("Starting loopback transmission")

	for seq := 0; seq < total; seq++ {
		start := seq * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := lb.send(opData, fileID, uint16(seq), uint16(total), data[start:end]); err != nil {
			lb.notifySender(ftm.StatusTerminatedByTxNode, nil)
			return err
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(data))
	if err := lb.send(opEnd, fileID, uint16(total), uint16(total), crc[:]); err != nil {
		lb.notifySender(ftm.StatusTerminatedByTxNode, nil)
		return err
	}
	return nil
}

// terminate tells the peer the sender gave up and raises the local
// notification.
func (lb *Loopback) terminate() error {
	lb.mu.Lock()
	fileID := lb.fileID
	lb.mu.Unlock()

	err := lb.send(opTerminate, fileID, 0, 0, nil)
	lb.notifySender(ftm.StatusTerminatedByTxNode, nil)
	return err
}

// send frames one segment and hands it to the transmitter. The 8-byte
// segment header alone satisfies the link's minimum payload size.
func (lb *Loopback) send(op byte, fileID uint8, seq, total uint16, data []byte) error {
	lb.mu.Lock()
	fn := lb.transmit
	appID := lb.appID
	channelID := lb.channelID
	lb.mu.Unlock()

	if fn == nil {
		return ErrNoTransmitter
	}

	payload := make([]byte, segHeaderLen+len(data))
	payload[0] = op
	payload[1] = fileID
	binary.LittleEndian.PutUint16(payload[2:4], seq)
	binary.LittleEndian.PutUint16(payload[4:6], total)
	binary.LittleEndian.PutUint16(payload[6:8], uint16(len(data)))
	copy(payload[segHeaderLen:], data)

	return fn(channelID, appID, payload)
}

// ParsePayload implements ftm.Service: it decodes one loopback segment
// and advances the receive or acknowledgment state machines. Malformed
// segments are logged and dropped, matching how the link layer treats
// malformed frames.
func (lb *Loopback) ParsePayload(tcTmID, srcDstID uint8, payload []byte) {
	seg, data, err := decodeSegment(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "ParsePayload",
			"tc_tm_id":    tcTmID,
			"payload_len": len(payload),
			"error":       err.Error(),
		}).Warn("Discarding malformed segment")
		return
	}

	switch seg.op {
	case opData:
		lb.handleData(seg, data)
	case opEnd:
		lb.handleEnd(seg, data)
	case opAck:
		lb.handleAck(seg, data)
	case opTerminate:
		lb.notifyReceiver(ftm.StatusTerminatedByTxNode, nil)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "ParsePayload",
			"opcode":   seg.op,
		}).Warn("Discarding segment with unknown opcode")
	}
}

type segment struct {
	op      byte
	fileID  uint8
	seq     uint16
	total   uint16
	dataLen uint16
}

func decodeSegment(payload []byte) (segment, []byte, error) {
	if len(payload) < segHeaderLen {
		return segment{}, nil, ErrSegmentTooShort
	}
	seg := segment{
		op:      payload[0],
		fileID:  payload[1],
		seq:     binary.LittleEndian.Uint16(payload[2:4]),
		total:   binary.LittleEndian.Uint16(payload[4:6]),
		dataLen: binary.LittleEndian.Uint16(payload[6:8]),
	}
	data := payload[segHeaderLen:]
	if int(seg.dataLen) > len(data) {
		return segment{}, nil, fmt.Errorf("segment declares %d data bytes, %d present", seg.dataLen, len(data))
	}
	return seg, data[:seg.dataLen], nil
}

func (lb *Loopback) handleData(seg segment, data []byte) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	in, ok := lb.rxFiles[seg.fileID]
	if !ok {
		in = &inbound{chunks: make(map[uint16][]byte)}
		lb.rxFiles[seg.fileID] = in
	}
	in.total = seg.total
	chunk := make([]byte, len(data))
	copy(chunk, data)
	in.chunks[seg.seq] = chunk
}

// handleEnd reassembles the file, verifies the checksum, stores the
// result and acknowledges. Missing segments or a checksum mismatch are
// both reported as a CRC failure, the way the module collapses receive
// errors at end of transfer.
func (lb *Loopback) handleEnd(seg segment, data []byte) {
	if len(data) < 4 {
		lb.notifyReceiver(ftm.StatusCRCError, nil)
		lb.sendAck(seg.fileID, ackCRC)
		return
	}
	wantCRC := binary.LittleEndian.Uint32(data[:4])

	lb.mu.Lock()
	in := lb.rxFiles[seg.fileID]
	storage := lb.storagePath
	delete(lb.rxFiles, seg.fileID)
	lb.mu.Unlock()

	var assembled []byte
	complete := in != nil
	if in != nil {
		for i := uint16(0); i < in.total; i++ {
			chunk, ok := in.chunks[i]
			if !ok {
				complete = false
				break
			}
			assembled = append(assembled, chunk...)
		}
	}

	if !complete || crc32.ChecksumIEEE(assembled) != wantCRC {
		logrus.WithFields(logrus.Fields{
			"function": "handleEnd",
			"file_id":  seg.fileID,
			"complete": complete,
		}).Error("Receive failed checksum verification")
		lb.notifyReceiver(ftm.StatusCRCError, nil)
		lb.sendAck(seg.fileID, ackCRC)
		return
	}

	path := filepath.Join(storage, fmt.Sprintf("rx_file_%03d.bin", seg.fileID))
	if err := os.WriteFile(path, assembled, 0o644); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleEnd",
			"path":     path,
			"error":    err.Error(),
		}).Error("Failed to store received file")
		lb.notifyReceiver(ftm.StatusStorageNotAvailable, nil)
		lb.sendAck(seg.fileID, ackCRC)
		return
	}

	lb.mu.Lock()
	lb.received = append(lb.received, path)
	lb.mu.Unlock()

	lb.notifyReceiver(ftm.StatusDownloadSuccess, &ftm.DownloadInfo{
		RxFileID:    seg.fileID,
		StoragePath: path,
		Size:        uint32(len(assembled)),
		Checksum:    wantCRC,
	})
	lb.sendAck(seg.fileID, ackOK)
}

func (lb *Loopback) handleAck(seg segment, data []byte) {
	result := ackOK
	if len(data) > 0 {
		result = data[0]
	}
	if result == ackOK {
		lb.notifySender(ftm.StatusUploadSuccess, nil)
		return
	}
	lb.notifySender(ftm.StatusCRCError, nil)
}

func (lb *Loopback) sendAck(fileID uint8, result byte) {
	if err := lb.send(opAck, fileID, 0, 0, []byte{result}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendAck",
			"file_id":  fileID,
			"error":    err.Error(),
		}).Error("Failed to send acknowledgment")
	}
}

func (lb *Loopback) notifySender(status ftm.Status, dl *ftm.DownloadInfo) {
	lb.mu.Lock()
	appID := lb.appID
	fn := lb.senderFns[appID]
	lb.mu.Unlock()
	if fn == nil {
		return
	}
	fn(&ftm.Notification{AppID: appID, Status: status, Download: dl})
}

func (lb *Loopback) notifyReceiver(status ftm.Status, dl *ftm.DownloadInfo) {
	lb.mu.Lock()
	appID := lb.appID
	fn := lb.receiverFns[appID]
	lb.mu.Unlock()
	if fn == nil {
		return
	}
	fn(&ftm.Notification{AppID: appID, Status: status, Download: dl})
}
