package ftm

import "fmt"

// Status identifies a transfer-lifecycle notification raised by the FTM.
type Status uint8

const (
	// StatusIgnore carries no information and is safe to discard.
	StatusIgnore Status = iota
	// StatusUploadReady signals the receiver accepted the upload request.
	StatusUploadReady
	// StatusDownloadReady signals a download request arrived.
	StatusDownloadReady
	// StatusOTSU is reserved for over-the-space updates.
	StatusOTSU
	// StatusUploadSuccess signals the file upload completed.
	StatusUploadSuccess
	// StatusDownloadSuccess signals the file download completed.
	StatusDownloadSuccess
	// StatusSuspended signals the transfer entered the suspended state.
	StatusSuspended
	// StatusSuspendAccepted signals the peer acknowledged a suspend.
	StatusSuspendAccepted
	// StatusResumed signals the transfer left the suspended state.
	StatusResumed
	// StatusResumeAccepted signals the peer acknowledged a resume.
	StatusResumeAccepted
	// StatusSuspendedSaveContext signals a suspend with context capture.
	StatusSuspendedSaveContext
	// StatusSuspendedAutoSaveContext signals an FTM-initiated context save.
	StatusSuspendedAutoSaveContext
	// StatusSuspendSaveContextAccepted signals the peer accepted a context save.
	StatusSuspendSaveContextAccepted
	// StatusResumedRestoreContext signals a resume from saved context.
	StatusResumedRestoreContext
	// StatusResumeSaveContextAccepted signals the peer accepted a context resume.
	StatusResumeSaveContextAccepted
	// StatusSuspendSaveContextFailed signals the context capture failed.
	StatusSuspendSaveContextFailed
	// StatusResumeRestoreContextFailed signals the context restore failed.
	StatusResumeRestoreContextFailed
	// StatusStorageNotAvailable signals the receiver has no storage left.
	StatusStorageNotAvailable
	// StatusTerminatedByRxNode signals the receiver terminated the transfer.
	StatusTerminatedByRxNode
	// StatusTerminatedByTxNode signals the sender terminated the transfer.
	StatusTerminatedByTxNode
	// StatusTerminatedReceiverNotResponsive signals a termination after the
	// receiver stopped answering activity checks.
	StatusTerminatedReceiverNotResponsive
	// StatusSegmentLossCancelled signals cancellation after continuous
	// segment loss.
	StatusSegmentLossCancelled
	// StatusCRCError signals the transfer completed with a checksum error.
	StatusCRCError
	// StatusSuspendTimeoutExpired signals cancellation after the suspend
	// timeout ran out.
	StatusSuspendTimeoutExpired
	// StatusInvalidReceiverAppID signals the upload was rejected because the
	// receiver application is not registered.
	StatusInvalidReceiverAppID
	// StatusUploadRejected signals the upload request was rejected.
	StatusUploadRejected
	// StatusSuspendTimeoutNotAccepted signals the peer rejected a timed suspend.
	StatusSuspendTimeoutNotAccepted
	// StatusResumeTimeoutNotAccepted signals the peer rejected a timed resume.
	StatusResumeTimeoutNotAccepted
	// StatusSuspendedSaveContextExtended signals an extended context-save state.
	StatusSuspendedSaveContextExtended

	// statusCount bounds the valid Status values.
	statusCount
)

var statusNames = map[Status]string{
	StatusIgnore:                          "ignore",
	StatusUploadReady:                     "upload_ready",
	StatusDownloadReady:                   "download_ready",
	StatusOTSU:                            "otsu",
	StatusUploadSuccess:                   "upload_success",
	StatusDownloadSuccess:                 "download_success",
	StatusSuspended:                       "suspended",
	StatusSuspendAccepted:                 "suspend_accepted",
	StatusResumed:                         "resumed",
	StatusResumeAccepted:                  "resume_accepted",
	StatusSuspendedSaveContext:            "suspended_savecontext",
	StatusSuspendedAutoSaveContext:        "suspended_auto_savecontext",
	StatusSuspendSaveContextAccepted:      "suspend_savecontext_accepted",
	StatusResumedRestoreContext:           "resumed_restorecontext",
	StatusResumeSaveContextAccepted:       "resume_savecontext_accepted",
	StatusSuspendSaveContextFailed:        "suspend_savecontext_failed",
	StatusResumeRestoreContextFailed:      "resume_restorecontext_failed",
	StatusStorageNotAvailable:             "storage_not_available",
	StatusTerminatedByRxNode:              "terminated_by_rx_node",
	StatusTerminatedByTxNode:              "terminated_by_tx_node",
	StatusTerminatedReceiverNotResponsive: "terminated_receiver_not_responsive",
	StatusSegmentLossCancelled:            "segment_loss_cancelled",
	StatusCRCError:                        "crc_error",
	StatusSuspendTimeoutExpired:           "suspend_timeout_expired",
	StatusInvalidReceiverAppID:            "invalid_receiver_app_id",
	StatusUploadRejected:                  "upload_rejected",
	StatusSuspendTimeoutNotAccepted:       "suspend_timeout_not_accepted",
	StatusResumeTimeoutNotAccepted:        "resume_timeout_not_accepted",
	StatusSuspendedSaveContextExtended:    "suspended_savecontext_extended",
}

// String returns the wire-log name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is one of the defined notification statuses.
func (s Status) Valid() bool {
	return s < statusCount
}

// AllStatuses returns every defined status, in declaration order.
func AllStatuses() []Status {
	out := make([]Status, 0, statusCount)
	for s := StatusIgnore; s < statusCount; s++ {
		out = append(out, s)
	}
	return out
}
