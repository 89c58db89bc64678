// Package chattest provides a scripted chat server for transport tests. It
// accepts connections over TCP or WebSocket, runs the verifying side of the
// handshake and then hands each session to the test.
package chattest

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/omochice/toy-messenger/internal/auth"
	"github.com/omochice/toy-messenger/internal/chat"
	"github.com/omochice/toy-messenger/internal/transport/tcp"
	"github.com/omochice/toy-messenger/internal/transport/ws"
	"github.com/omochice/toy-messenger/pkg/protocol"
)

// Timeout bounds every blocking helper so a broken test fails instead of hanging.
const Timeout = 5 * time.Second

type listener interface {
	Accept() (chat.Conn, error)
	Addr() string
	Close() error
}

// Server is a loopback chat server.
type Server struct {
	listener  listener
	secret    auth.Secret
	websocket bool
	mutual    bool
	sessions  chan *Session
	closed    chan struct{}

	mu   sync.Mutex
	open []*Session
	wg   sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithWebSocket serves WebSocket instead of plain TCP.
func WithWebSocket() Option {
	return func(s *Server) { s.websocket = true }
}

// WithMutualAuth makes the server answer the client's challenge after
// verifying it.
func WithMutualAuth() Option {
	return func(s *Server) { s.mutual = true }
}

// NewServer starts a server authenticating clients with secret. It is shut
// down when the test ends.
func NewServer(t testing.TB, secret auth.Secret, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		secret:   secret,
		sessions: make(chan *Session, 8),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.websocket {
		s.listener, err = ws.Listen("127.0.0.1:0")
	} else {
		s.listener, err = tcp.Listen("127.0.0.1:0")
	}
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the address a client should dial.
func (s *Server) Addr() string {
	if s.websocket {
		return "ws://" + s.listener.Addr() + "/ws"
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn chat.Conn) {
	var res auth.Result
	if s.mutual {
		res = auth.ChallengeMutual(conn, s.secret, auth.WithTimeout(Timeout))
	} else {
		res = auth.Challenge(conn, s.secret, auth.WithTimeout(Timeout))
	}

	sess := &Session{conn: conn, r: bufio.NewReader(conn), Handshake: res}
	s.mu.Lock()
	s.open = append(s.open, sess)
	s.mu.Unlock()
	select {
	case s.sessions <- sess:
	case <-s.closed:
	}
}

// Accept waits for the next client to finish its handshake, successful or not.
func (s *Server) Accept(t testing.TB) *Session {
	t.Helper()
	select {
	case sess := <-s.sessions:
		return sess
	case <-time.After(Timeout):
		t.Fatal("no client connected")
		return nil
	}
}

// Close stops accepting and closes every session.
func (s *Server) Close() {
	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
	}
	s.listener.Close()
	s.mu.Lock()
	for _, sess := range s.open {
		sess.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Session is the server end of one client connection.
type Session struct {
	// Handshake is the verifier's outcome for this connection.
	Handshake auth.Result

	conn    chat.Conn
	r       *bufio.Reader
	writeMu sync.Mutex
	once    sync.Once
}

// Next reads the next envelope, waiting at most Timeout.
func (s *Session) Next() (protocol.Envelope, error) {
	if err := s.conn.SetDeadline(time.Now().Add(Timeout)); err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.ReadEnvelope(s.r, protocol.DefaultMaxEnvelopeSize)
}

// Expect reads the next envelope and fails the test unless it has kind.
// Call it from the test goroutine only.
func (s *Session) Expect(t testing.TB, kind protocol.Kind) protocol.Envelope {
	t.Helper()
	env, err := s.Next()
	if err != nil {
		t.Fatalf("expected %s envelope: %v", kind, err)
	}
	if env.Kind != kind {
		t.Fatalf("expected %s envelope, got %s", kind, env.Kind)
	}
	return env
}

// Send writes env to the client.
func (s *Session) Send(env protocol.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteEnvelope(s.conn, env)
}

// Reply answers req with code and errText.
func (s *Session) Reply(req protocol.Envelope, code int, errText string) error {
	return s.Send(protocol.NewResponse(req.Seq, code, errText))
}

// WriteRaw writes bytes that bypass envelope encoding.
func (s *Session) WriteRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(b)
	return err
}

// Login consumes the presence envelope sent after the handshake and accepts it.
func (s *Session) Login(t testing.TB) protocol.Envelope {
	t.Helper()
	env := s.Expect(t, protocol.KindPresence)
	if err := s.Reply(env, protocol.StatusOK, ""); err != nil {
		t.Fatalf("failed to accept login: %v", err)
	}
	return env
}

// Handler answers one request. Returning false sends no reply.
type Handler func(req protocol.Envelope) (protocol.Envelope, bool)

// Serve answers requests with h in a background goroutine until the client
// goes away. The returned channel is closed when serving stops.
func (s *Session) Serve(h Handler) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := s.conn.SetDeadline(time.Time{}); err != nil {
			return
		}
		for {
			req, err := protocol.ReadEnvelope(s.r, protocol.DefaultMaxEnvelopeSize)
			if err != nil {
				return
			}
			resp, ok := h(req)
			if !ok {
				continue
			}
			if err := s.Send(resp); err != nil {
				return
			}
		}
	}()
	return stopped
}

// AcceptAll is a Handler that approves every request expecting a reply.
func AcceptAll(req protocol.Envelope) (protocol.Envelope, bool) {
	if !req.Kind.ExpectsReply() {
		return protocol.Envelope{}, false
	}
	return protocol.NewResponse(req.Seq, protocol.StatusOK, ""), true
}

// Close closes the connection.
func (s *Session) Close() {
	s.once.Do(func() {
		s.conn.Close()
	})
}
