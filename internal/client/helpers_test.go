package client_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-messenger/internal/auth"
	"github.com/omochice/toy-messenger/internal/chattest"
	"github.com/omochice/toy-messenger/internal/client"
	"github.com/omochice/toy-messenger/pkg/protocol"
)

func mustSecret(t *testing.T, passphrase string) auth.Secret {
	t.Helper()
	secret, err := auth.DeriveSecret(passphrase)
	require.NoError(t, err)
	return secret
}

type savedMessage struct {
	Peer      string
	Direction protocol.Direction
	Text      string
}

// fakeStore records every call the transport makes.
type fakeStore struct {
	mu       sync.Mutex
	messages []savedMessage
	contacts []string
	adds     []string
}

func (s *fakeStore) History(peer string) ([]protocol.ChatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.ChatRecord
	for _, m := range s.messages {
		if m.Peer == peer {
			out = append(out, protocol.ChatRecord{Peer: m.Peer, Direction: m.Direction, Text: m.Text})
		}
	}
	return out, nil
}

func (s *fakeStore) SaveMessage(peer string, dir protocol.Direction, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, savedMessage{Peer: peer, Direction: dir, Text: text})
	return nil
}

func (s *fakeStore) Contacts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.contacts...), nil
}

func (s *fakeStore) AddContact(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds = append(s.adds, name)
	for _, c := range s.contacts {
		if c == name {
			return nil
		}
	}
	s.contacts = append(s.contacts, name)
	return nil
}

func (s *fakeStore) RemoveContact(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.contacts {
		if c == name {
			s.contacts = append(s.contacts[:i], s.contacts[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) ContactExists(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) saved() []savedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedMessage(nil), s.messages...)
}

// recorder is a Notifier that counts events.
type recorder struct {
	mu       sync.Mutex
	senders  []string
	lost     int
	messages chan string
	lostCh   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		messages: make(chan string, 16),
		lostCh:   make(chan struct{}, 4),
	}
}

func (r *recorder) OnNewMessage(sender string) {
	r.mu.Lock()
	r.senders = append(r.senders, sender)
	r.mu.Unlock()
	r.messages <- sender
}

func (r *recorder) OnConnectionLost() {
	r.mu.Lock()
	r.lost++
	r.mu.Unlock()
	r.lostCh <- struct{}{}
}

func (r *recorder) lostCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

func (r *recorder) waitLost(t *testing.T) {
	t.Helper()
	select {
	case <-r.lostCh:
	case <-time.After(chattest.Timeout):
		t.Fatal("connection lost notification not fired")
	}
}

func (r *recorder) waitMessage(t *testing.T) string {
	t.Helper()
	select {
	case sender := <-r.messages:
		return sender
	case <-time.After(chattest.Timeout):
		t.Fatal("new message notification not fired")
		return ""
	}
}

// fixture is an authenticated transport talking to a chattest session.
type fixture struct {
	tr     *client.Transport
	sess   *chattest.Session
	store  *fakeStore
	events *recorder
	cfg    client.Config
}

func newFixture(t *testing.T, srv *chattest.Server, secret auth.Secret, mutate func(*client.Config), opts ...client.Option) *fixture {
	t.Helper()

	f := &fixture{store: &fakeStore{}, events: newRecorder()}
	opts = append([]client.Option{client.WithLogger(zerolog.New(zerolog.NewTestWriter(t)))}, opts...)
	f.tr = client.New(f.store, f.events, opts...)
	t.Cleanup(func() { f.tr.Close() })

	f.cfg = client.Config{Address: srv.Addr(), Identity: "alice", Secret: secret}
	if mutate != nil {
		mutate(&f.cfg)
	}
	f.connect(t, srv)
	return f
}

func (f *fixture) connect(t *testing.T, srv *chattest.Server) {
	t.Helper()

	done := async(func() error {
		_, err := f.tr.Connect(context.Background(), f.cfg)
		return err
	})
	f.sess = srv.Accept(t)
	require.True(t, f.sess.Handshake.Authenticated, "handshake: %v", f.sess.Handshake.Error())
	login := f.sess.Login(t)
	require.Equal(t, f.cfg.Identity, login.Sender)
	require.NoError(t, wait(t, done))
	require.Equal(t, client.StateAuthenticated, f.tr.State())
}

func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(chattest.Timeout):
		t.Fatal("call did not return")
		return nil
	}
}
