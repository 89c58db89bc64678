// Package ws provides the WebSocket transport for the messenger client.
// Each Write becomes one binary frame; reads return frame payloads as a byte
// stream so that framing above this layer does not care about message borders.
package ws

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts a gobwas/ws connection to chat.Conn interface.
type Conn struct {
	conn net.Conn
	rw   io.ReadWriter
	side ws.State

	readMu        sync.Mutex
	readBuffer    []byte
	readBufferPos int

	writeMu sync.Mutex
}

// Dial opens a WebSocket connection to url (ws://host:port/path).
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	c := &Conn{conn: conn, rw: conn, side: ws.StateClientSide}
	if br != nil {
		// The server already sent frames behind its handshake response.
		c.rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}
	return c, nil
}

// Upgrade performs the server side of the WebSocket handshake on conn.
func Upgrade(conn net.Conn) (*Conn, error) {
	if _, err := ws.Upgrade(conn); err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return &Conn{conn: conn, rw: conn, side: ws.StateServerSide}, nil
}

// Read implements chat.Conn.
// Buffers the remainder of a frame that does not fit into p.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.readBufferPos < len(c.readBuffer) {
		return c.drain(p), nil
	}

	var (
		data []byte
		err  error
	)
	if c.side.ClientSide() {
		data, err = wsutil.ReadServerBinary(c.rw)
	} else {
		data, err = wsutil.ReadClientBinary(c.rw)
	}
	if err != nil {
		return 0, err
	}
	c.readBuffer = data
	c.readBufferPos = 0
	return c.drain(p), nil
}

func (c *Conn) drain(p []byte) int {
	n := copy(p, c.readBuffer[c.readBufferPos:])
	c.readBufferPos += n
	if c.readBufferPos >= len(c.readBuffer) {
		c.readBuffer = nil
		c.readBufferPos = 0
	}
	return n
}

// Write implements chat.Conn.
// Writes p as a single binary frame.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var err error
	if c.side.ClientSide() {
		err = wsutil.WriteClientBinary(c.conn, p)
	} else {
		err = wsutil.WriteServerBinary(c.conn, p)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements chat.Conn.
// Sends a close frame before closing the socket.
func (c *Conn) Close() error {
	// Unblocks a writer stuck on a dead peer before waiting for its lock.
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	c.writeMu.Lock()
	if c.side.ClientSide() {
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
	} else {
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
	}
	c.writeMu.Unlock()
	return c.conn.Close()
}

// SetDeadline implements chat.Conn.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
