package dispatch

import "github.com/orbitgrid/satlink/ftm"

// Class is the effect a notification status has on the session.
type Class uint8

const (
	// ClassInformational statuses are logged and forwarded, nothing more.
	ClassInformational Class = iota
	// ClassSuccess statuses terminate the transfer successfully.
	ClassSuccess
	// ClassFailure statuses terminate the transfer with an error.
	ClassFailure
)

// String returns the class name used in diagnostics.
func (c Class) String() string {
	switch c {
	case ClassInformational:
		return "informational"
	case ClassSuccess:
		return "terminal-success"
	case ClassFailure:
		return "terminal-failure"
	default:
		return "unknown"
	}
}

// Classify maps a status to its effect class. The mapping is fixed
// policy: every defined status belongs to exactly one class, and unknown
// statuses are treated as informational so a newer FTM cannot terminate a
// session with a status this build does not understand.
func Classify(s ftm.Status) Class {
	switch s {
	case ftm.StatusUploadSuccess, ftm.StatusDownloadSuccess:
		return ClassSuccess

	case ftm.StatusCRCError,
		ftm.StatusInvalidReceiverAppID,
		ftm.StatusUploadRejected,
		ftm.StatusStorageNotAvailable,
		ftm.StatusTerminatedByRxNode,
		ftm.StatusTerminatedByTxNode,
		ftm.StatusTerminatedReceiverNotResponsive,
		ftm.StatusSegmentLossCancelled,
		ftm.StatusSuspendTimeoutExpired:
		return ClassFailure

	default:
		return ClassInformational
	}
}
