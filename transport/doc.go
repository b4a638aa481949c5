// Package transport owns the duplex byte stream between the application
// and the satellite link bridge, and runs the receive loop that feeds
// decoded frame payloads into the File Transfer Module.
//
// A Channel is exactly one duplex connection: the accepting side of the
// fixed bridge port for the receiving role, or a dialed connection for
// the sending role. TCP is the production transport; a WebSocket variant
// carries the same frames one-per-message, and NoiseChannel wraps any
// channel with Noise-XX encryption.
//
// The surrounding bridge protocol delivers exactly one complete frame per
// transport read, so the receive loop performs no reassembly: short reads
// are logged and discarded, and connection closure is fatal to the
// session.
package transport
