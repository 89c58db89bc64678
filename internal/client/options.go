package client

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/toy-messenger/internal/auth"
	"github.com/omochice/toy-messenger/internal/observability"
	"github.com/omochice/toy-messenger/pkg/protocol"
)

const (
	DefaultRequestTimeout   = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
)

// Config is everything Connect needs to open a session.
type Config struct {
	// Address is host:port for TCP or ws://host:port/path for WebSocket.
	Address  string
	Identity string
	Secret   auth.Secret

	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	MaxEnvelopeSize  int

	// MutualAuth makes the client challenge the server after proving itself.
	// The server must run the same mode.
	MutualAuth bool
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxEnvelopeSize <= 0 {
		c.MaxEnvelopeSize = protocol.DefaultMaxEnvelopeSize
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Address == "":
		return fmt.Errorf("%w: empty server address", ErrInvalidArgument)
	case c.Identity == "":
		return fmt.Errorf("%w: empty identity", ErrInvalidArgument)
	case len(c.Secret) != auth.SecretSize:
		return fmt.Errorf("%w: secret must be %d bytes, got %d", ErrInvalidArgument, auth.SecretSize, len(c.Secret))
	}
	return nil
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithObserver sets the metrics observer.
func WithObserver(o observability.TransportObserver) Option {
	return func(t *Transport) {
		if o != nil {
			t.obs = o
		}
	}
}

// WithDialer replaces the socket dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
		}
	}
}
