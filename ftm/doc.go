// Package ftm defines the boundary contract of the File Transfer Module:
// the notification statuses it raises, the records those notifications
// carry, the transfer-control requests it accepts and the Service
// interface through which the bridge drives it.
//
// The FTM's internal transfer state machine (segmentation, retry,
// suspend/resume, context persistence) is not part of this module. The
// bridge consumes the FTM only through this boundary: it registers
// callbacks, feeds decoded payloads to ParsePayload and receives frames
// to transmit through the registered TransmitFunc.
package ftm
