package tcp

import (
	"fmt"
	"net"

	"github.com/omochice/toy-messenger/internal/chat"
)

// Listener accepts TCP connections as chat.Conn. The client never listens;
// it backs the scripted peer used in tests.
type Listener struct {
	listener net.Listener
}

// Listen starts listening on address.
func Listen(address string) (*Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP listener: %w", err)
	}
	return &Listener{listener: listener}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (chat.Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

// Close stops listening. Blocked Accept calls return net.ErrClosed.
func (l *Listener) Close() error {
	return l.listener.Close()
}
