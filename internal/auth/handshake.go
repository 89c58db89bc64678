package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// NonceSize is the length of the challenge sent by the verifying side.
	NonceSize = 32

	// DigestSize is the length of the HMAC-SHA256 proof returned by the responder.
	DigestSize = sha256.Size

	verdictAccept byte = 1
	verdictReject byte = 0
)

// ErrHandshakeFailed is wrapped by every error a failed Result reports.
var ErrHandshakeFailed = errors.New("handshake failed")

// Reason explains a handshake outcome.
type Reason string

const (
	ReasonOK        Reason = "ok"
	ReasonTimeout   Reason = "timeout"
	ReasonShortRead Reason = "short_read"
	ReasonMismatch  Reason = "mismatch"
	ReasonRejected  Reason = "rejected"
	ReasonIO        Reason = "io"
	ReasonRandom    Reason = "random"
)

// Result is the terminal outcome of one handshake attempt. A failed Result
// means the connection must be closed; it is never retried on the same socket.
type Result struct {
	Authenticated bool
	Reason        Reason
	Err           error
}

// Error returns nil for an authenticated result and an error wrapping
// ErrHandshakeFailed otherwise.
func (r Result) Error() error {
	if r.Authenticated {
		return nil
	}
	if r.Err != nil {
		return fmt.Errorf("%w (%s): %w", ErrHandshakeFailed, r.Reason, r.Err)
	}
	return fmt.Errorf("%w (%s)", ErrHandshakeFailed, r.Reason)
}

func ok() Result { return Result{Authenticated: true, Reason: ReasonOK} }

func failed(reason Reason, err error) Result {
	return Result{Reason: reason, Err: err}
}

// deadliner is implemented by net.Conn and the chat.Conn adapters.
type deadliner interface {
	SetDeadline(t time.Time) error
}

type options struct {
	rand    io.Reader
	timeout time.Duration
}

// Option configures a handshake.
type Option func(*options)

// WithTimeout bounds the whole handshake when the stream supports deadlines.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRand replaces the nonce source. Tests only; production uses crypto/rand.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

func buildOptions(opts []Option) options {
	o := options{rand: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Digest computes the proof for nonce under secret.
func Digest(secret Secret, nonce []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(nonce)
	return mac.Sum(nil)
}

// Challenge runs the verifying side: it sends a fresh nonce, checks the
// returned digest in constant time and tells the peer the verdict.
func Challenge(rw io.ReadWriter, secret Secret, opts ...Option) Result {
	o := buildOptions(opts)
	defer withDeadline(rw, o.timeout)()

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(o.rand, nonce); err != nil {
		return failed(ReasonRandom, err)
	}
	if _, err := rw.Write(nonce); err != nil {
		return failed(classify(err), err)
	}

	got := make([]byte, DigestSize)
	if _, err := io.ReadFull(rw, got); err != nil {
		return failed(classify(err), err)
	}

	if !hmac.Equal(Digest(secret, nonce), got) {
		_, _ = rw.Write([]byte{verdictReject})
		return failed(ReasonMismatch, nil)
	}
	if _, err := rw.Write([]byte{verdictAccept}); err != nil {
		return failed(classify(err), err)
	}
	return ok()
}

// Respond runs the proving side: it answers the peer's nonce with its digest
// and waits for the verdict.
func Respond(rw io.ReadWriter, secret Secret, opts ...Option) Result {
	o := buildOptions(opts)
	defer withDeadline(rw, o.timeout)()

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rw, nonce); err != nil {
		return failed(classify(err), err)
	}
	if _, err := rw.Write(Digest(secret, nonce)); err != nil {
		return failed(classify(err), err)
	}

	var verdict [1]byte
	if _, err := io.ReadFull(rw, verdict[:]); err != nil {
		return failed(classify(err), err)
	}
	if verdict[0] != verdictAccept {
		return failed(ReasonRejected, nil)
	}
	return ok()
}

// RespondMutual proves the client's secret and then verifies the server's.
func RespondMutual(rw io.ReadWriter, secret Secret, opts ...Option) Result {
	if r := Respond(rw, secret, opts...); !r.Authenticated {
		return r
	}
	return Challenge(rw, secret, opts...)
}

// ChallengeMutual is the server half of RespondMutual.
func ChallengeMutual(rw io.ReadWriter, secret Secret, opts ...Option) Result {
	if r := Challenge(rw, secret, opts...); !r.Authenticated {
		return r
	}
	return Respond(rw, secret, opts...)
}

func withDeadline(rw io.ReadWriter, timeout time.Duration) func() {
	d, ok := rw.(deadliner)
	if !ok || timeout <= 0 {
		return func() {}
	}
	_ = d.SetDeadline(time.Now().Add(timeout))
	return func() { _ = d.SetDeadline(time.Time{}) }
}

func classify(err error) Reason {
	var te interface{ Timeout() bool }
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &te) && te.Timeout():
		return ReasonTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ReasonShortRead
	default:
		return ReasonIO
	}
}
