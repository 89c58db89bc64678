package client

import (
	"errors"
	"fmt"

	"github.com/omochice/toy-messenger/internal/auth"
)

var (
	// ErrHandshakeFailed is returned by Connect when the server does not accept
	// our proof of the shared secret. The socket is closed and must be redialed.
	ErrHandshakeFailed = auth.ErrHandshakeFailed

	// ErrProtocolDecode marks a malformed, truncated or oversized envelope from
	// the server. It is always fatal to the connection.
	ErrProtocolDecode = errors.New("protocol decode error")

	// ErrServerRejected is matched by every *ServerError.
	ErrServerRejected = errors.New("server rejected request")

	// ErrConnectionLost fails every request pending when the connection drops.
	ErrConnectionLost = errors.New("connection lost")

	// ErrRequestTimeout is returned when no reply arrives in time. The
	// connection stays open and the request may be retried.
	ErrRequestTimeout = errors.New("request timed out")

	ErrNotConnected     = errors.New("not connected to server")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnect          = errors.New("failed to connect to server")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// ServerError is an application-level failure reported by the server, such as
// a duplicate contact or an unknown recipient.
type ServerError struct {
	Code int
	Text string
}

func (e *ServerError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("server rejected request: code %d", e.Code)
	}
	return fmt.Sprintf("server rejected request: code %d: %s", e.Code, e.Text)
}

// Is makes errors.Is(err, ErrServerRejected) hold for every ServerError.
func (e *ServerError) Is(target error) bool {
	return target == ErrServerRejected
}
