package ftm

// Request is a transfer-control request issued to the FTM.
type Request uint8

const (
	// RequestStartTransmission starts the configured file transfer.
	RequestStartTransmission Request = iota
	// RequestSuspendTimeout suspends the transfer with a timeout value.
	RequestSuspendTimeout
	// RequestResumeTimeout resumes a transfer suspended with a timeout.
	RequestResumeTimeout
	// RequestTerminate aborts the ongoing transfer.
	RequestTerminate
	// RequestSuspendSaveContext suspends and captures the transfer context.
	RequestSuspendSaveContext
	// RequestSuspendSaveContextAck acknowledges a context save.
	RequestSuspendSaveContextAck
	// RequestSuspendSaveContextNack rejects a context save.
	RequestSuspendSaveContextNack
	// RequestResumeSaveContextNack rejects a context restore.
	RequestResumeSaveContextNack
)

// AckMode selects whether the FTM requires per-segment acknowledgment.
type AckMode uint8

const (
	// AckModeAck requires acknowledgment for every segment.
	AckModeAck AckMode = iota
	// AckModeUnack streams segments without acknowledgment.
	AckModeUnack
)

// DownloadInfo describes a completed or announced download. It is only
// valid on notifications whose status is a download status.
type DownloadInfo struct {
	TxMode         uint8
	RxFileID       uint8
	StoragePath    string
	Size           uint32
	Checksum       uint32
	Retransmission bool
}

// ContextSaveInfo carries the opaque transfer context captured on a
// suspend-with-save request. Only valid on save-context statuses.
type ContextSaveInfo struct {
	InstanceKey uint32
	Context     []byte
}

// Notification is one lifecycle event raised by the FTM. The FTM may
// reuse the backing storage after the callback returns, so consumers must
// finish with the notification synchronously and must not retain it.
type Notification struct {
	AppID  uint16
	Status Status

	// Download is populated only for download-related statuses.
	Download *DownloadInfo
	// ContextSave is populated only for save-context statuses.
	ContextSave *ContextSaveInfo
}

// TransmitFunc carries an FTM payload out over the link. The bridge
// installs one that frames the payload and writes it to the channel.
type TransmitFunc func(tcTmID, srcDstID uint16, payload []byte) error

// NotifyFunc receives lifecycle notifications for a registered application.
type NotifyFunc func(*Notification)

// Service is the surface the bridge needs from a File Transfer Module
// implementation. Init must be called before any transfer request.
type Service interface {
	// Init starts the FTM's own processing context.
	Init() error

	// RegisterTransmitter installs the callback the FTM uses to push
	// frames onto the link.
	RegisterTransmitter(fn TransmitFunc) error

	// RegisterSenderApp installs the sender-role notification callback
	// for an application id. A later registration for the same id
	// replaces the earlier one.
	RegisterSenderApp(appID uint16, fn NotifyFunc) error

	// RegisterReceiverApp installs the receiver-role notification
	// callback for an application id.
	RegisterReceiverApp(appID uint16, fn NotifyFunc) error

	// ParsePayload hands one decoded link payload to the FTM.
	ParsePayload(tcTmID, srcDstID uint8, payload []byte)

	// TransferRequest issues a transfer-control request. The key carries
	// the suspend timeout or the context-save database key, depending on
	// the request.
	TransferRequest(req Request, key uint32) error

	// Pass-through configuration. The bridge applies these from its own
	// config before starting a transfer; their semantics live entirely
	// inside the FTM.
	SetAppID(appID uint16) error
	SetSenderFile(nameAndPath string) error
	SetReceiverStoragePath(path string) error
	SetMTU(size uint16) error
	SetInterPacketDelay(ms uint16)
	SetAckMode(mode AckMode) error
	SetFileID(id uint8)
	SetRxNodeConnFailureTime(seconds uint16)
	SetActivityCheckWindow(packets uint8)
}
