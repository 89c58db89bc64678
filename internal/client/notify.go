package client

import (
	"github.com/omochice/toy-messenger/pkg/protocol"
)

// Store is the local contact and history persistence the transport updates
// after the server confirms a request.
type Store interface {
	History(peer string) ([]protocol.ChatRecord, error)
	SaveMessage(peer string, dir protocol.Direction, text string) error
	Contacts() ([]string, error)
	AddContact(name string) error
	RemoveContact(name string) error
	ContactExists(name string) (bool, error)
}

// Notifier receives asynchronous events. For an authenticated connection the
// methods run one at a time on a goroutine owned by that connection, in the
// order the events arrived, with OnConnectionLost last. A callback may call any
// Transport method, including requests and Close. A failed handshake is
// reported from Connect before it returns.
type Notifier interface {
	OnNewMessage(sender string)
	OnConnectionLost()
}

// NotifierFuncs adapts plain functions to Notifier. Nil fields are ignored.
type NotifierFuncs struct {
	NewMessage     func(sender string)
	ConnectionLost func()
}

func (f NotifierFuncs) OnNewMessage(sender string) {
	if f.NewMessage != nil {
		f.NewMessage(sender)
	}
}

func (f NotifierFuncs) OnConnectionLost() {
	if f.ConnectionLost != nil {
		f.ConnectionLost()
	}
}
