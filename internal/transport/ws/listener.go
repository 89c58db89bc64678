package ws

import (
	"fmt"
	"net"
	"time"

	"github.com/omochice/toy-messenger/internal/chat"
)

// upgradeTimeout bounds the HTTP upgrade of an accepted connection.
const upgradeTimeout = 5 * time.Second

// Listener accepts WebSocket connections on any path as chat.Conn.
type Listener struct {
	listener net.Listener
}

// Listen starts listening on address (host:port).
func Listen(address string) (*Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to start WebSocket listener: %w", err)
	}
	return &Listener{listener: listener}, nil
}

// Accept waits for the next connection and upgrades it. A failed upgrade
// closes that connection and returns an error; the listener stays usable.
func (l *Listener) Accept() (chat.Conn, error) {
	raw, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	_ = raw.SetDeadline(time.Now().Add(upgradeTimeout))
	conn, err := Upgrade(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	_ = raw.SetDeadline(time.Time{})
	return conn, nil
}

// Addr returns the listening address.
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

// URL returns a ws:// URL a client can dial.
func (l *Listener) URL() string {
	return "ws://" + l.Addr() + "/ws"
}

// Close stops listening. Blocked Accept calls return net.ErrClosed.
func (l *Listener) Close() error {
	return l.listener.Close()
}
