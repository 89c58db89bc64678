package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-messenger/pkg/protocol"
)

func rawFrame(body string) []byte {
	frame := make([]byte, protocol.HeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[protocol.HeaderSize:], body)
	return frame
}

func allKinds() []protocol.Envelope {
	return []protocol.Envelope{
		{Kind: protocol.KindPresence, Seq: 1, Sender: "alice", Timestamp: ts},
		{Kind: protocol.KindAddContact, Seq: 2, Sender: "alice", Contact: "carol", Timestamp: ts},
		{Kind: protocol.KindDelContact, Seq: 3, Sender: "alice", Contact: "carol", Timestamp: ts},
		{Kind: protocol.KindMessage, Seq: 4, Sender: "alice", Recipient: "bob", Text: "привет, bob \"quoted\"\n", Timestamp: ts},
		{Kind: protocol.KindHistoryRequest, Seq: 5, Sender: "alice", Recipient: "bob", Timestamp: ts},
		{Kind: protocol.KindContactsRequest, Seq: 6, Sender: "alice", Timestamp: ts},
		{Kind: protocol.KindExit, Sender: "alice", Timestamp: ts},
		{Kind: protocol.KindResponse, ReplyTo: 2, Code: protocol.StatusConflict, Error: "contact exists", Timestamp: ts},
		{Kind: protocol.KindResponse, ReplyTo: 6, Code: protocol.StatusAccepted, Contacts: []string{"bob", "carol"}, Timestamp: ts},
		{
			Kind: protocol.KindResponse, ReplyTo: 5, Code: protocol.StatusAccepted, Timestamp: ts,
			History: []protocol.ChatRecord{
				{Peer: "bob", Direction: protocol.DirectionOut, Text: "hi", Timestamp: ts},
				{Peer: "bob", Direction: protocol.DirectionIn, Text: "hello", Timestamp: ts.Add(time.Minute)},
			},
		},
	}
}

func TestEnvelope_EncodeDecodeRoundTrip(t *testing.T) {
	for _, original := range allKinds() {
		t.Run(original.Kind.String(), func(t *testing.T) {
			frame, err := original.Encode()
			require.NoError(t, err)

			decoded, n, err := protocol.Decode(frame, 0)
			require.NoError(t, err)
			assert.Equal(t, len(frame), n)
			assert.Equal(t, original, decoded)
		})
	}
}

func TestEnvelope_EncodeIsNamedFieldText(t *testing.T) {
	env := protocol.NewMessage("alice", "bob", "hi")
	frame, err := env.Encode()
	require.NoError(t, err)

	body := string(frame[protocol.HeaderSize:])
	for _, field := range []string{`"kind"`, `"message"`, `"sender"`, `"recipient"`, `"text"`, `"timestamp"`} {
		assert.Contains(t, body, field)
	}
	assert.Equal(t, uint32(len(body)), binary.BigEndian.Uint32(frame))
}

func TestEnvelope_EncodeRejectsInvalid(t *testing.T) {
	const maxSeq = 1 << 53
	tests := []struct {
		name    string
		env     protocol.Envelope
		wantErr error
	}{
		{
			name:    "message without text",
			env:     protocol.NewMessage("alice", "bob", ""),
			wantErr: protocol.ErrMissingField,
		},
		{
			name:    "negative code",
			env:     protocol.NewResponse(1, -200, ""),
			wantErr: protocol.ErrMalformed,
		},
		{
			name:    "seq beyond exact integers",
			env:     protocol.Envelope{Kind: protocol.KindPresence, Seq: maxSeq + 1, Sender: "alice", Timestamp: ts},
			wantErr: protocol.ErrMalformed,
		},
		{
			name:    "reply_to beyond exact integers",
			env:     protocol.NewResponse(maxSeq+1, protocol.StatusOK, ""),
			wantErr: protocol.ErrMalformed,
		},
		{
			name: "history record without direction",
			env: protocol.Envelope{
				Kind: protocol.KindResponse, ReplyTo: 1, Code: protocol.StatusAccepted, Timestamp: ts,
				History: []protocol.ChatRecord{{Peer: "bob", Text: "hi", Timestamp: ts}},
			},
			wantErr: protocol.ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.env.Encode()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEnvelope_EncodeAcceptsLargestExactSeq(t *testing.T) {
	env := protocol.Envelope{Kind: protocol.KindPresence, Seq: 1 << 53, Sender: "alice", Timestamp: ts}
	frame, err := env.Encode()
	require.NoError(t, err)

	decoded, _, err := protocol.Decode(frame, 0)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestDecode_Errors(t *testing.T) {
	stamp := `"timestamp":"2024-03-09T18:04:05Z"`
	tests := []struct {
		name         string
		buf          []byte
		max          int
		wantErr      error
		wantConsumed int
	}{
		{
			name:    "empty input",
			buf:     nil,
			wantErr: protocol.ErrIncomplete,
		},
		{
			name:    "partial header",
			buf:     []byte{0, 0},
			wantErr: protocol.ErrIncomplete,
		},
		{
			name:    "partial body",
			buf:     rawFrame(`{"kind":"exit"}`)[:8],
			wantErr: protocol.ErrIncomplete,
		},
		{
			name:    "oversized header",
			buf:     []byte{0, 0, 1, 0},
			max:     16,
			wantErr: protocol.ErrTooLarge,
		},
		{
			name:         "not json",
			buf:          rawFrame(`kind=exit`),
			wantErr:      protocol.ErrMalformed,
			wantConsumed: protocol.HeaderSize + len(`kind=exit`),
		},
		{
			name:         "unknown kind",
			buf:          rawFrame(`{"kind":"broadcast","sender":"a",` + stamp + `}`),
			wantErr:      protocol.ErrUnknownKind,
			wantConsumed: protocol.HeaderSize + len(`{"kind":"broadcast","sender":"a",`+stamp+`}`),
		},
		{
			name:         "missing kind",
			buf:          rawFrame(`{"sender":"a",` + stamp + `}`),
			wantErr:      protocol.ErrMissingField,
			wantConsumed: protocol.HeaderSize + len(`{"sender":"a",`+stamp+`}`),
		},
		{
			name:         "message missing text",
			buf:          rawFrame(`{"kind":"message","sender":"a","recipient":"b",` + stamp + `}`),
			wantErr:      protocol.ErrMissingField,
			wantConsumed: protocol.HeaderSize + len(`{"kind":"message","sender":"a","recipient":"b",`+stamp+`}`),
		},
		{
			name:         "wrong field type",
			buf:          rawFrame(`{"kind":"presence","sender":7,` + stamp + `}`),
			wantErr:      protocol.ErrMalformed,
			wantConsumed: protocol.HeaderSize + len(`{"kind":"presence","sender":7,`+stamp+`}`),
		},
		{
			name:         "fractional seq",
			buf:          rawFrame(`{"kind":"presence","sender":"a","seq":1.5,` + stamp + `}`),
			wantErr:      protocol.ErrMalformed,
			wantConsumed: protocol.HeaderSize + len(`{"kind":"presence","sender":"a","seq":1.5,`+stamp+`}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, n, err := protocol.Decode(tt.buf, tt.max)
			require.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, protocol.ErrDecode)
			assert.Equal(t, tt.wantConsumed, n)
			assert.Equal(t, protocol.Envelope{}, env)
		})
	}
}

func TestDecode_DistinctErrors(t *testing.T) {
	kinds := []error{protocol.ErrIncomplete, protocol.ErrUnknownKind, protocol.ErrMissingField, protocol.ErrTooLarge, protocol.ErrMalformed}
	for i, a := range kinds {
		for j, b := range kinds {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v must not match %v", a, b)
			}
		}
	}
}

func TestDecoder_StreamingByteByByte(t *testing.T) {
	var stream []byte
	want := allKinds()
	for _, env := range want {
		frame, err := env.Encode()
		require.NoError(t, err)
		stream = append(stream, frame...)
	}

	dec := protocol.NewDecoder(0)
	var got []protocol.Envelope
	for _, b := range stream {
		require.NoError(t, dec.Feed([]byte{b}))
		for {
			env, err := dec.Next()
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			require.NoError(t, err)
			got = append(got, env)
		}
	}
	assert.Equal(t, want, got)
	assert.Zero(t, dec.Buffered())
}

func TestDecoder_TruncatedThenCompleted(t *testing.T) {
	env := protocol.Envelope{Kind: protocol.KindMessage, Seq: 9, Sender: "bob", Recipient: "alice", Text: "hi", Timestamp: ts}
	frame, err := env.Encode()
	require.NoError(t, err)

	dec := protocol.NewDecoder(0)
	cut := len(frame) / 2
	require.NoError(t, dec.Feed(frame[:cut]))

	partial, err := dec.Next()
	require.ErrorIs(t, err, protocol.ErrIncomplete)
	assert.Equal(t, protocol.Envelope{}, partial)
	assert.Equal(t, cut, dec.Buffered())

	require.NoError(t, dec.Feed(frame[cut:]))
	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestDecoder_RejectsOversizedBeforeBuffering(t *testing.T) {
	dec := protocol.NewDecoder(32)
	err := dec.Feed([]byte{0, 0, 0, 33})
	require.ErrorIs(t, err, protocol.ErrTooLarge)
	assert.Zero(t, dec.Buffered())

	err = dec.Feed([]byte(strings.Repeat("x", 10)))
	assert.ErrorIs(t, err, protocol.ErrTooLarge, "error must be sticky")
	_, err = dec.Next()
	assert.ErrorIs(t, err, protocol.ErrTooLarge)
}

func TestDecoder_SkipsInvalidFrame(t *testing.T) {
	good := protocol.NewExit("alice")
	frame, err := good.Encode()
	require.NoError(t, err)

	dec := protocol.NewDecoder(0)
	require.NoError(t, dec.Feed(append(rawFrame(`{"kind":"nope"}`), frame...)))

	_, err = dec.Next()
	require.ErrorIs(t, err, protocol.ErrUnknownKind)

	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.KindExit, got.Kind)
}

func TestReadEnvelope(t *testing.T) {
	env := protocol.NewAddContact("alice", "carol")
	env.Seq = 3
	frame, err := env.Encode()
	require.NoError(t, err)

	t.Run("complete frame", func(t *testing.T) {
		got, err := protocol.ReadEnvelope(bytes.NewReader(frame), 0)
		require.NoError(t, err)
		assert.Equal(t, env.Contact, got.Contact)
		assert.Equal(t, env.Seq, got.Seq)
	})

	t.Run("clean eof", func(t *testing.T) {
		_, err := protocol.ReadEnvelope(bytes.NewReader(nil), 0)
		assert.ErrorIs(t, err, io.EOF)
		assert.NotErrorIs(t, err, protocol.ErrDecode)
	})

	t.Run("eof inside header", func(t *testing.T) {
		_, err := protocol.ReadEnvelope(bytes.NewReader(frame[:2]), 0)
		assert.ErrorIs(t, err, protocol.ErrIncomplete)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("eof inside body", func(t *testing.T) {
		_, err := protocol.ReadEnvelope(bytes.NewReader(frame[:len(frame)-1]), 0)
		assert.ErrorIs(t, err, protocol.ErrIncomplete)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("oversized", func(t *testing.T) {
		_, err := protocol.ReadEnvelope(bytes.NewReader(frame), 8)
		assert.ErrorIs(t, err, protocol.ErrTooLarge)
	})
}

type errWriter struct{}

func (errWriter) Write(_ []byte) (int, error) { return 0, errors.New("write failed") }

func TestWriteEnvelope(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteEnvelope(&buf, protocol.NewPresence("alice")))

	got, err := protocol.ReadEnvelope(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Sender)

	assert.Error(t, protocol.WriteEnvelope(errWriter{}, protocol.NewPresence("alice")))
}
