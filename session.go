package satlink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/orbitgrid/satlink/dispatch"
	"github.com/orbitgrid/satlink/frame"
	"github.com/orbitgrid/satlink/ftm"
	"github.com/orbitgrid/satlink/transport"
)

// ErrAlreadyStarted indicates Start was called twice on one session.
var ErrAlreadyStarted = errors.New("session already started")

// ErrNotStarted indicates an operation that needs a running session.
var ErrNotStarted = errors.New("session not started")

// Session wires one transfer run together: the duplex channel to the
// bridge, the frame encoder, the receive loop feeding the FTM, the
// notification dispatcher and the completion latch. One session covers
// one transfer; allocate a fresh one per run.
type Session struct {
	cfg   Config
	svc   ftm.Service
	enc   *frame.Encoder
	disp  *dispatch.Dispatcher
	latch *dispatch.Latch

	mu      sync.Mutex
	ch      transport.Channel
	started bool
	loopErr chan error

	closeOnce sync.Once
	closeErr  error

	senderSink   dispatch.NotificationSink
	receiverSink dispatch.NotificationSink
}

// NewSession builds a session from cfg, driving svc. The channel is not
// opened until Start.
func NewSession(cfg Config, svc ftm.Service) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, errors.New("ftm service is nil")
	}

	enc := frame.NewEncoder()
	enc.Control = cfg.Control
	// The marker byte carries the application id on the wire so the
	// peer's receive loop can match frames to its registration.
	enc.QoSMarker = byte(cfg.AppID)

	s := &Session{
		cfg:     cfg,
		svc:     svc,
		enc:     enc,
		disp:    dispatch.NewDispatcher(),
		latch:   dispatch.NewLatch(),
		loopErr: make(chan error, 1),
	}
	s.disp.AttachLatch(s.latch)

	logrus.WithFields(logrus.Fields{
		"function": "NewSession",
		"role":     cfg.Role,
		"app_id":   cfg.AppID,
	}).Info("Session created")

	return s, nil
}

// NewSessionWithChannel builds a session over an already-established
// channel, skipping the dial/accept step in Start. Used by custom
// transports and in tests.
func NewSessionWithChannel(cfg Config, svc ftm.Service, ch transport.Channel) (*Session, error) {
	s, err := NewSession(cfg, svc)
	if err != nil {
		return nil, err
	}
	s.ch = ch
	return s, nil
}

// OnSenderNotification overrides the default sender-role notification
// sink. Must be called before Start.
func (s *Session) OnSenderNotification(sink dispatch.NotificationSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderSink = sink
}

// OnReceiverNotification overrides the default receiver-role sink. Must
// be called before Start.
func (s *Session) OnReceiverNotification(sink dispatch.NotificationSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiverSink = sink
}

// Start opens the channel for the configured role, initializes the FTM,
// installs callbacks and launches the receive loop. It returns once the
// session is running; the loop's terminal error arrives on LoopDone.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	if s.ch == nil {
		ch, err := s.openChannel(ctx)
		if err != nil {
			return err
		}
		s.ch = ch
	}

	if s.cfg.NoiseEnabled {
		key, err := transport.GenerateNoiseKeypair()
		if err != nil {
			s.ch.Close()
			return fmt.Errorf("noise keypair: %w", err)
		}
		nc, err := transport.NewNoiseChannel(s.ch, key, s.cfg.Role == RoleSender)
		if err != nil {
			s.ch.Close()
			return fmt.Errorf("noise channel: %w", err)
		}
		s.ch = nc
	}

	if err := s.svc.Init(); err != nil {
		s.ch.Close()
		return fmt.Errorf("ftm init: %w", err)
	}

	if err := s.registerCallbacks(); err != nil {
		s.ch.Close()
		return err
	}

	if err := s.applyConfig(); err != nil {
		s.ch.Close()
		return err
	}

	val := transport.Validation{
		TcTmMin:    s.cfg.TcTmMin,
		TcTmMax:    s.cfg.TcTmMax,
		PayloadMin: s.cfg.PayloadMin,
		PayloadMax: s.cfg.PayloadMax,
	}
	if s.cfg.EnforceAppID {
		val.ExpectedAppID = byte(s.cfg.AppID)
	}

	loop := transport.NewReceiveLoop(s.ch, transport.PayloadSinkFunc(s.svc.ParsePayload), val)
	go func() {
		s.loopErr <- loop.Run(ctx)
	}()

	s.started = true

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"role":     s.cfg.Role,
		"peer":     s.ch.RemoteAddr().String(),
	}).Info("Session started")

	return nil
}

// openChannel establishes the duplex connection for the configured role.
func (s *Session) openChannel(ctx context.Context) (transport.Channel, error) {
	switch {
	case s.cfg.Role == RoleSender && s.cfg.Transport == TransportTCP:
		return transport.DialTCP(ctx, s.cfg.BridgeAddr)

	case s.cfg.Role == RoleSender && s.cfg.Transport == TransportWS:
		return transport.DialWS(ctx, s.cfg.BridgeAddr)

	case s.cfg.Role == RoleReceiver && s.cfg.Transport == TransportTCP:
		l, err := transport.NewTCPListener(s.cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		return l.Accept(ctx)

	default: // receiver over ws
		l, err := transport.NewWSListener(s.cfg.ListenAddr, s.cfg.WSPath)
		if err != nil {
			return nil, err
		}
		return l.Accept(ctx)
	}
}

// registerCallbacks installs the transmitter and both notification
// roles with the FTM, routing notifications through the dispatcher.
func (s *Session) registerCallbacks() error {
	if err := s.svc.RegisterTransmitter(s.transmit); err != nil {
		return fmt.Errorf("register transmitter: %w", err)
	}

	senderSink := s.senderSink
	if senderSink == nil {
		senderSink = defaultSenderSink()
	}
	receiverSink := s.receiverSink
	if receiverSink == nil {
		receiverSink = defaultReceiverSink()
	}
	s.disp.RegisterSender(s.cfg.AppID, senderSink)
	s.disp.RegisterReceiver(s.cfg.AppID, receiverSink)

	err := s.svc.RegisterSenderApp(s.cfg.AppID, func(n *ftm.Notification) {
		_ = s.disp.Dispatch(dispatch.RoleSender, n)
	})
	if err != nil {
		return fmt.Errorf("register sender app: %w", err)
	}

	err = s.svc.RegisterReceiverApp(s.cfg.AppID, func(n *ftm.Notification) {
		_ = s.disp.Dispatch(dispatch.RoleReceiver, n)
	})
	if err != nil {
		return fmt.Errorf("register receiver app: %w", err)
	}

	return nil
}

// applyConfig pushes the pass-through settings into the FTM.
func (s *Session) applyConfig() error {
	if err := s.svc.SetAppID(s.cfg.AppID); err != nil {
		return fmt.Errorf("set app id: %w", err)
	}
	if err := s.svc.SetMTU(s.cfg.MTU); err != nil {
		return fmt.Errorf("set mtu: %w", err)
	}
	s.svc.SetInterPacketDelay(s.cfg.InterPacketDelayMs)
	if err := s.svc.SetAckMode(s.cfg.ackMode()); err != nil {
		return fmt.Errorf("set ack mode: %w", err)
	}
	if s.cfg.FileID != 0 {
		s.svc.SetFileID(s.cfg.FileID)
	}
	if s.cfg.RxNodeConnFailureTime != 0 {
		s.svc.SetRxNodeConnFailureTime(s.cfg.RxNodeConnFailureTime)
	}
	if s.cfg.ActivityCheckWindow != 0 {
		s.svc.SetActivityCheckWindow(s.cfg.ActivityCheckWindow)
	}

	if s.cfg.Role == RoleSender && s.cfg.FilePath != "" {
		if err := s.svc.SetSenderFile(s.cfg.FilePath); err != nil {
			return fmt.Errorf("set sender file: %w", err)
		}
	}
	if s.cfg.Role == RoleReceiver && s.cfg.StoragePath != "" {
		if err := s.svc.SetReceiverStoragePath(s.cfg.StoragePath); err != nil {
			return fmt.Errorf("set storage path: %w", err)
		}
	}

	return nil
}

// transmit is the TransmitFunc registered with the FTM: it frames one
// payload and writes it to the channel. A failed send surfaces to the
// FTM; the frame is not retried here.
func (s *Session) transmit(tcTmID, srcDstID uint16, payload []byte) error {
	buf, err := s.enc.Encode(uint8(tcTmID), s.cfg.DestinationID, payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "transmit",
			"tc_tm_id":    tcTmID,
			"payload_len": len(payload),
			"error":       err.Error(),
		}).Error("Frame encode failed, dropping transmission")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "transmit",
		"tc_tm_id":    tcTmID,
		"src_dst_id":  srcDstID,
		"payload_len": len(payload),
		"frame_len":   len(buf),
	}).Debug("Transmitting frame")

	return s.ch.Send(buf)
}

// Transfer issues a transfer-control request to the FTM.
func (s *Session) Transfer(req ftm.Request, key uint32) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	return s.svc.TransferRequest(req, key)
}

// Wait blocks until a terminal notification releases the completion
// latch, or ctx ends.
func (s *Session) Wait(ctx context.Context) (dispatch.Outcome, error) {
	return s.latch.Await(ctx)
}

// LoopDone delivers the receive loop's terminal error once the session
// ends: ErrChannelClosed on connection loss, ctx.Err() on cancellation.
func (s *Session) LoopDone() <-chan error {
	return s.loopErr
}

// Close tears the channel down once. Safe to call at any point after
// NewSession.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		ch := s.ch
		s.mu.Unlock()
		if ch != nil {
			s.closeErr = ch.Close()
		}
	})
	return s.closeErr
}

// defaultSenderSink logs upload-side notifications the way the ground
// drivers do.
func defaultSenderSink() dispatch.NotificationSink {
	return dispatch.NotificationSinkFunc(func(n *ftm.Notification) {
		logrus.WithFields(logrus.Fields{
			"app_id": n.AppID,
			"status": n.Status.String(),
		}).Info("Upload notification")
	})
}

// defaultReceiverSink logs download-side notifications, including the
// stored file details when present.
func defaultReceiverSink() dispatch.NotificationSink {
	return dispatch.NotificationSinkFunc(func(n *ftm.Notification) {
		fields := logrus.Fields{
			"app_id": n.AppID,
			"status": n.Status.String(),
		}
		if n.Download != nil {
			fields["path"] = n.Download.StoragePath
			fields["size"] = n.Download.Size
			fields["checksum"] = fmt.Sprintf("%08x", n.Download.Checksum)
			fields["retransmission"] = n.Download.Retransmission
		}
		logrus.WithFields(fields).Info("Download notification")
	})
}
