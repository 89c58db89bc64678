// Package chat holds the connection abstraction shared by the messenger
// transports and the session code built on top of them.
package chat

import (
	"io"
	"time"
)

// Conn abstracts a byte-stream connection to the chat server for both TCP and
// WebSocket. The handshake exchanges raw bytes over it and envelopes are framed
// on top of it, so adapters must present message-oriented links as a stream.
type Conn interface {
	io.ReadWriteCloser

	// SetDeadline bounds pending and future reads and writes.
	// A zero time clears the deadline.
	SetDeadline(t time.Time) error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
