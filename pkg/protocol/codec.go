package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// HeaderSize is the length of the big-endian body length that prefixes every envelope.
	HeaderSize = 4

	// DefaultMaxEnvelopeSize bounds a single envelope body when no limit is configured.
	DefaultMaxEnvelopeSize = 1 << 20
)

var (
	// ErrDecode is matched by every decoding failure.
	ErrDecode = errors.New("protocol decode error")

	ErrIncomplete   = fmt.Errorf("%w: incomplete envelope", ErrDecode)
	ErrTooLarge     = fmt.Errorf("%w: envelope too large", ErrDecode)
	ErrMalformed    = fmt.Errorf("%w: malformed envelope", ErrDecode)
	ErrUnknownKind  = fmt.Errorf("%w: unknown kind", ErrDecode)
	ErrMissingField = fmt.Errorf("%w: missing required field", ErrDecode)
)

var marshalOptions = protojson.MarshalOptions{UseProtoNames: true}

// Encode encodes the envelope into a length-prefixed frame
func (e *Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	body, err := marshalOptions.Marshal(e.toProto())
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// Decode decodes the first envelope in buf.
//
// consumed is the number of bytes the caller may drop from buf. It is zero for
// ErrIncomplete and ErrTooLarge, and covers the whole frame when the body
// itself is invalid. A non-positive max selects DefaultMaxEnvelopeSize.
func Decode(buf []byte, max int) (env Envelope, consumed int, err error) {
	n, err := frameLen(buf, max)
	if err != nil {
		return Envelope{}, 0, err
	}
	end := HeaderSize + n
	if len(buf) < end {
		return Envelope{}, 0, ErrIncomplete
	}
	env, err = decodeBody(buf[HeaderSize:end])
	return env, end, err
}

// ReadEnvelope reads exactly one envelope from r.
//
// A clean EOF before any header byte returns io.EOF; EOF inside a frame
// returns an error matching both ErrIncomplete and io.ErrUnexpectedEOF.
func ReadEnvelope(r io.Reader, max int) (Envelope, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, fmt.Errorf("%w: %w", ErrIncomplete, err)
		}
		return Envelope{}, err
	}
	n, err := frameLen(hdr[:], max)
	if err != nil {
		return Envelope{}, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, fmt.Errorf("%w: %w", ErrIncomplete, io.ErrUnexpectedEOF)
		}
		return Envelope{}, err
	}
	return decodeBody(body)
}

// WriteEnvelope encodes env and writes it to w in a single Write call.
func WriteEnvelope(w io.Writer, env Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

// frameLen validates the header at the start of buf and returns the body length.
func frameLen(buf []byte, max int) (int, error) {
	if max <= 0 {
		max = DefaultMaxEnvelopeSize
	}
	if len(buf) < HeaderSize {
		return 0, ErrIncomplete
	}
	n := binary.BigEndian.Uint32(buf[:HeaderSize])
	if uint64(n) > uint64(max) {
		return 0, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, n, max)
	}
	return int(n), nil
}

func decodeBody(body []byte) (Envelope, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(body, &s); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var env Envelope
	if err := env.fromProto(&s); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Decoder reassembles envelopes from arbitrarily split chunks of a stream.
type Decoder struct {
	max int
	buf []byte
	err error
}

// NewDecoder creates a Decoder enforcing max bytes per envelope body.
func NewDecoder(max int) *Decoder {
	if max <= 0 {
		max = DefaultMaxEnvelopeSize
	}
	return &Decoder{max: max}
}

// Feed appends p to the pending input.
// It fails with ErrTooLarge as soon as the next frame header announces an
// oversized body, before that body is buffered. The error is sticky.
func (d *Decoder) Feed(p []byte) error {
	if d.err != nil {
		return d.err
	}
	d.buf = append(d.buf, p...)
	if _, err := frameLen(d.buf, d.max); errors.Is(err, ErrTooLarge) {
		d.fail(err)
		return err
	}
	return nil
}

// Next returns the next complete envelope. It returns ErrIncomplete, without
// consuming anything, when more input is needed.
func (d *Decoder) Next() (Envelope, error) {
	if d.err != nil {
		return Envelope{}, d.err
	}
	env, n, err := Decode(d.buf, d.max)
	if errors.Is(err, ErrTooLarge) {
		d.fail(err)
		return Envelope{}, err
	}
	if n > 0 {
		d.buf = d.buf[n:]
		if len(d.buf) == 0 {
			d.buf = nil
		}
	}
	return env, err
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) fail(err error) {
	d.err = err
	d.buf = nil
}
