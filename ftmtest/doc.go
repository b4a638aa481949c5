// Package ftmtest provides a loopback file-transfer service for tests
// and demos. It implements the ftm.Service surface with a minimal
// segment protocol of its own: the sender side chunks a file over the
// registered transmitter, the receiver side reassembles it into the
// storage directory and acknowledges, and both sides raise the same
// lifecycle notifications a production module would.
//
// The loopback is not a protocol implementation to build on. It exists
// so the bridging layers can be exercised end to end without the real
// module library.
package ftmtest
