package client

import (
	"context"
	"strings"

	"github.com/omochice/toy-messenger/internal/chat"
	"github.com/omochice/toy-messenger/internal/transport/tcp"
	"github.com/omochice/toy-messenger/internal/transport/ws"
)

// Dialer opens the byte stream a Transport authenticates and talks over.
type Dialer interface {
	Dial(ctx context.Context, address string) (chat.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (chat.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, address string) (chat.Conn, error) {
	return f(ctx, address)
}

// DefaultDialer dials WebSocket for ws:// and wss:// addresses and plain TCP
// otherwise.
var DefaultDialer Dialer = DialerFunc(dial)

func dial(ctx context.Context, address string) (chat.Conn, error) {
	if isWebSocket(address) {
		conn, err := ws.Dial(ctx, address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	conn, err := tcp.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func isWebSocket(address string) bool {
	return strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://")
}
