// Package client implements the messenger client transport: it owns one
// authenticated connection to the chat server, correlates requests with their
// replies and reports inbound messages and connection loss.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/toy-messenger/internal/auth"
	"github.com/omochice/toy-messenger/internal/chat"
	"github.com/omochice/toy-messenger/internal/observability"
	"github.com/omochice/toy-messenger/pkg/protocol"
)

// closeGrace bounds the polite exit envelope written by Close.
const closeGrace = time.Second

// Transport is the single owner of one client-to-server connection.
// It does not reconnect on its own: after a loss the caller decides whether to
// call Connect again.
type Transport struct {
	store    Store
	notifier Notifier
	log      zerolog.Logger
	obs      observability.TransportObserver
	dialer   Dialer

	// lifecycleMu serializes Connect and Close.
	lifecycleMu sync.Mutex

	mu      sync.Mutex
	state   State
	cfg     Config
	conn    chat.Conn
	pending map[uint64]*pendingRequest
	nextSeq uint64
	done    chan struct{}
	events  *eventQueue

	writeMu sync.Mutex
}

// New creates a disconnected Transport. A nil store or notifier is replaced
// by one that does nothing.
func New(store Store, notifier Notifier, opts ...Option) *Transport {
	if store == nil {
		store = nopStore{}
	}
	if notifier == nil {
		notifier = NotifierFuncs{}
	}
	t := &Transport{
		store:    store,
		notifier: notifier,
		log:      zerolog.Nop(),
		obs:      observability.NoopTransportObserver,
		dialer:   DefaultDialer,
		pending:  make(map[uint64]*pendingRequest),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// PendingCount returns the number of requests waiting for a reply.
func (t *Transport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Connect dials cfg.Address, proves knowledge of cfg.Secret and logs in as
// cfg.Identity. It returns the resulting state.
//
// A dial failure leaves the transport Disconnected and matches ErrConnect.
// A failed handshake closes the socket, leaves the transport Lost, fires the
// connection-lost notification and matches ErrHandshakeFailed. A rejected
// login closes the connection and returns a *ServerError.
func (t *Transport) Connect(ctx context.Context, cfg Config) (State, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return t.State(), err
	}

	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	t.mu.Lock()
	if t.state == StateAuthenticated {
		t.mu.Unlock()
		return StateAuthenticated, ErrAlreadyConnected
	}
	prev := t.done
	t.mu.Unlock()
	if prev != nil {
		<-prev
	}

	t.setState(StateConnecting)
	log := t.log.With().Str("server", cfg.Address).Str("login", cfg.Identity).Logger()
	log.Debug().Msg("connecting")

	conn, err := t.dialer.Dial(ctx, cfg.Address)
	if err != nil {
		t.setState(StateDisconnected)
		log.Warn().Err(err).Msg("dial failed")
		return StateDisconnected, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	t.setState(StateAuthenticating)
	res := t.handshake(ctx, conn, cfg)
	if !res.Authenticated {
		conn.Close()
		t.setState(StateLost)
		log.Warn().Str("reason", string(res.Reason)).Err(res.Err).Msg("handshake failed")
		t.notifier.OnConnectionLost()
		return StateLost, res.Error()
	}

	done := make(chan struct{})
	events := newEventQueue()
	t.mu.Lock()
	t.cfg = cfg
	t.conn = conn
	t.done = done
	t.events = events
	t.pending = make(map[uint64]*pendingRequest)
	t.mu.Unlock()
	t.setState(StateAuthenticated)
	log.Info().Str("remote", conn.RemoteAddr()).Msg("authenticated")

	go t.readLoop(conn, cfg.MaxEnvelopeSize, done, events)

	if _, err := t.call(ctx, protocol.NewPresence(cfg.Identity)); err != nil {
		if t.State() == StateAuthenticated {
			t.shutdown()
		}
		return t.State(), fmt.Errorf("failed to log in: %w", err)
	}
	return StateAuthenticated, nil
}

func (t *Transport) handshake(ctx context.Context, conn chat.Conn, cfg Config) auth.Result {
	// A canceled ctx expires the socket deadline so the handshake returns.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	start := time.Now()
	opts := []auth.Option{auth.WithTimeout(cfg.HandshakeTimeout)}
	var res auth.Result
	if cfg.MutualAuth {
		res = auth.RespondMutual(conn, cfg.Secret, opts...)
	} else {
		res = auth.Respond(conn, cfg.Secret, opts...)
	}
	if !stop() && res.Authenticated {
		// The deadline may have been expired after the handshake cleared it.
		res = auth.Result{Reason: auth.ReasonTimeout, Err: ctx.Err()}
	}
	t.obs.Handshake(string(res.Reason), time.Since(start))
	return res
}

// Close says goodbye to the server, closes the socket and fails every pending
// request with ErrConnectionLost. It does not fire the connection-lost
// notification; notifications already queued are still delivered. Close on a
// lost transport only moves it to Disconnected.
func (t *Transport) Close() error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	t.shutdown()
	return nil
}

func (t *Transport) shutdown() {
	t.mu.Lock()
	state, conn, identity, done, events := t.state, t.conn, t.cfg.Identity, t.done, t.events
	t.mu.Unlock()

	switch state {
	case StateDisconnected:
		return
	case StateAuthenticated:
		exit := protocol.NewExit(identity)
		_ = conn.SetDeadline(time.Now().Add(closeGrace))
		t.writeMu.Lock()
		if err := protocol.WriteEnvelope(conn, exit); err != nil {
			t.log.Debug().Err(err).Msg("failed to send exit")
		}
		t.writeMu.Unlock()
	}

	t.mu.Lock()
	prev := t.state
	var pending map[uint64]*pendingRequest
	if prev == StateAuthenticated {
		pending = t.pending
		t.pending = make(map[uint64]*pendingRequest)
		t.obs.Pending(0)
	}
	// Authenticated and Lost may both move to Disconnected.
	t.state = StateDisconnected
	t.mu.Unlock()
	t.log.Debug().Stringer("from", prev).Stringer("to", StateDisconnected).Msg("state changed")
	t.obs.State(StateDisconnected.String())

	if conn != nil {
		conn.Close()
	}
	if len(pending) > 0 {
		failAll(pending, fmt.Errorf("%w: transport closed", ErrConnectionLost))
	}
	if done != nil {
		<-done
	}
	if events != nil {
		events.close(nil)
	}
	t.log.Info().Msg("disconnected")
}

// setState moves to next if the transition table allows it.
func (t *Transport) setState(next State) bool {
	t.mu.Lock()
	prev := t.state
	if !prev.canTransition(next) {
		t.mu.Unlock()
		t.log.Error().Stringer("from", prev).Stringer("to", next).Msg("invalid state transition")
		return false
	}
	t.state = next
	t.mu.Unlock()

	t.log.Debug().Stringer("from", prev).Stringer("to", next).Msg("state changed")
	t.obs.State(next.String())
	return true
}

// fail moves an authenticated connection to Lost. Only the first caller does
// anything: it closes the socket, fails all pending requests and queues the
// lost notification behind the events already queued.
func (t *Transport) fail(cause error) {
	t.mu.Lock()
	if t.state != StateAuthenticated {
		t.mu.Unlock()
		return
	}
	t.state = StateLost
	conn, events := t.conn, t.events
	pending := t.pending
	t.pending = make(map[uint64]*pendingRequest)
	t.obs.Pending(0)
	t.mu.Unlock()

	t.log.Debug().Stringer("from", StateAuthenticated).Stringer("to", StateLost).Msg("state changed")
	t.obs.State(StateLost.String())
	conn.Close()
	failAll(pending, fmt.Errorf("%w: %w", ErrConnectionLost, cause))
	t.obs.ConnectionLost()
	t.log.Warn().Err(cause).Int("pending", len(pending)).Msg("connection lost")
	events.close(t.notifier.OnConnectionLost)
}

func (t *Transport) readLoop(conn chat.Conn, max int, done chan struct{}, events *eventQueue) {
	defer close(done)

	r := bufio.NewReader(conn)
	for {
		env, err := protocol.ReadEnvelope(r, max)
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				err = fmt.Errorf("%w: %w", ErrProtocolDecode, err)
			}
			t.fail(err)
			return
		}
		t.obs.Inbound(env.Kind.String())
		t.dispatch(env, events)
	}
}

func (t *Transport) dispatch(env protocol.Envelope, events *eventQueue) {
	switch env.Kind {
	case protocol.KindResponse:
		p, ok := t.take(env.ReplyTo)
		if !ok {
			t.log.Debug().Uint64("reply_to", env.ReplyTo).Int("code", env.Code).Msg("dropping reply with no pending request")
			return
		}
		p.resolve(result{env: env})
	case protocol.KindMessage:
		// Saved on the event goroutine so each callback sees its own message
		// as the latest stored one.
		sender, text := env.Sender, env.Text
		events.push(func() {
			if err := t.store.SaveMessage(sender, protocol.DirectionIn, text); err != nil {
				t.log.Error().Err(err).Str("sender", sender).Msg("failed to save message")
			}
			t.notifier.OnNewMessage(sender)
		})
	default:
		t.log.Debug().Stringer("kind", env.Kind).Msg("ignoring envelope")
	}
}

// call sends env and waits for its reply. A non-2xx reply is returned as a
// *ServerError.
func (t *Transport) call(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	start := time.Now()
	kind := env.Kind.String()

	t.mu.Lock()
	if t.state != StateAuthenticated {
		t.mu.Unlock()
		return protocol.Envelope{}, ErrNotConnected
	}
	seq, p := t.reserveLocked(env.Kind)
	conn, max, timeout := t.conn, t.cfg.MaxEnvelopeSize, t.cfg.RequestTimeout
	t.obs.Pending(len(t.pending))
	t.mu.Unlock()

	env.Seq = seq
	frame, err := env.Encode()
	if err == nil && len(frame)-protocol.HeaderSize > max {
		err = fmt.Errorf("%w: %d bytes", protocol.ErrTooLarge, len(frame)-protocol.HeaderSize)
	}
	if err != nil {
		t.release(seq, p)
		t.obs.Request(kind, observability.RequestResultSendError, time.Since(start))
		return protocol.Envelope{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	t.writeMu.Lock()
	_, err = conn.Write(frame)
	t.writeMu.Unlock()
	if err != nil {
		// Resolves p with ErrConnectionLost unless someone already did.
		t.fail(fmt.Errorf("failed to write %s: %w", kind, err))
	} else {
		t.log.Debug().Str("kind", kind).Uint64("seq", seq).Msg("request sent")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var r result
	select {
	case r = <-p.done:
	case <-timer.C:
		if t.release(seq, p) {
			t.obs.Request(kind, observability.RequestResultTimeout, time.Since(start))
			return protocol.Envelope{}, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, kind, timeout)
		}
		r = <-p.done
	case <-ctx.Done():
		if t.release(seq, p) {
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				t.obs.Request(kind, observability.RequestResultTimeout, time.Since(start))
				return protocol.Envelope{}, fmt.Errorf("%w: %w", ErrRequestTimeout, err)
			}
			t.obs.Request(kind, observability.RequestResultCanceled, time.Since(start))
			return protocol.Envelope{}, err
		}
		r = <-p.done
	}

	switch {
	case r.err != nil:
		t.obs.Request(kind, observability.RequestResultLost, time.Since(start))
		return protocol.Envelope{}, r.err
	case !r.env.OK():
		t.obs.Request(kind, observability.RequestResultRejected, time.Since(start))
		return r.env, &ServerError{Code: r.env.Code, Text: r.env.Error}
	}
	t.obs.Request(kind, observability.RequestResultOK, time.Since(start))
	return r.env, nil
}

func (t *Transport) identity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.Identity
}

// AddContact asks the server to add name to the contact list and records it
// locally once the server agrees.
func (t *Transport) AddContact(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty contact name", ErrInvalidArgument)
	}
	if _, err := t.call(ctx, protocol.NewAddContact(t.identity(), name)); err != nil {
		return fmt.Errorf("failed to add contact %q: %w", name, err)
	}
	if err := t.store.AddContact(name); err != nil {
		return fmt.Errorf("failed to save contact %q: %w", name, err)
	}
	return nil
}

// RemoveContact asks the server to drop name and removes it locally once the
// server agrees.
func (t *Transport) RemoveContact(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty contact name", ErrInvalidArgument)
	}
	if _, err := t.call(ctx, protocol.NewDelContact(t.identity(), name)); err != nil {
		return fmt.Errorf("failed to remove contact %q: %w", name, err)
	}
	if err := t.store.RemoveContact(name); err != nil {
		return fmt.Errorf("failed to delete contact %q: %w", name, err)
	}
	return nil
}

// SendChatMessage delivers text to recipient and stores it as outgoing history
// once the server confirms delivery.
func (t *Transport) SendChatMessage(ctx context.Context, recipient, text string) error {
	if recipient == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidArgument)
	}
	if text == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidArgument)
	}
	if _, err := t.call(ctx, protocol.NewMessage(t.identity(), recipient, text)); err != nil {
		return fmt.Errorf("failed to send message to %q: %w", recipient, err)
	}
	if err := t.store.SaveMessage(recipient, protocol.DirectionOut, text); err != nil {
		return fmt.Errorf("failed to save message to %q: %w", recipient, err)
	}
	return nil
}

// RequestHistory fetches the server's copy of the conversation with peer.
func (t *Transport) RequestHistory(ctx context.Context, peer string) ([]protocol.ChatRecord, error) {
	if peer == "" {
		return nil, fmt.Errorf("%w: empty peer", ErrInvalidArgument)
	}
	resp, err := t.call(ctx, protocol.NewHistoryRequest(t.identity(), peer))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history with %q: %w", peer, err)
	}
	return resp.History, nil
}

// SyncContacts fetches the server's contact list and adds the names missing
// from the local store. It returns the server's list.
func (t *Transport) SyncContacts(ctx context.Context) ([]string, error) {
	resp, err := t.call(ctx, protocol.NewContactsRequest(t.identity()))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}
	for _, name := range resp.Contacts {
		ok, err := t.store.ContactExists(name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up contact %q: %w", name, err)
		}
		if ok {
			continue
		}
		if err := t.store.AddContact(name); err != nil {
			return nil, fmt.Errorf("failed to save contact %q: %w", name, err)
		}
	}
	return resp.Contacts, nil
}

type nopStore struct{}

func (nopStore) History(string) ([]protocol.ChatRecord, error)        { return nil, nil }
func (nopStore) SaveMessage(string, protocol.Direction, string) error { return nil }
func (nopStore) Contacts() ([]string, error)                          { return nil, nil }
func (nopStore) AddContact(string) error                              { return nil }
func (nopStore) RemoveContact(string) error                           { return nil }
func (nopStore) ContactExists(string) (bool, error)                   { return false, nil }
