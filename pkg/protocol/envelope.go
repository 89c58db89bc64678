// Package protocol defines the envelope exchanged between messenger clients and
// the server once a session is authenticated, and its wire codec.
package protocol

import (
	"fmt"
	"time"
)

// Kind represents the protocol action carried by an envelope
type Kind int

const (
	KindUnknown Kind = iota
	KindPresence
	KindAddContact
	KindDelContact
	KindMessage
	KindHistoryRequest
	KindContactsRequest
	KindExit
	KindResponse
)

// String returns the wire name of the Kind
func (k Kind) String() string {
	switch k {
	case KindPresence:
		return "presence"
	case KindAddContact:
		return "add_contact"
	case KindDelContact:
		return "del_contact"
	case KindMessage:
		return "message"
	case KindHistoryRequest:
		return "history_request"
	case KindContactsRequest:
		return "contacts_request"
	case KindExit:
		return "exit"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// ParseKind converts a wire name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k := KindPresence; k <= KindResponse; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// ExpectsReply reports whether the server answers this kind with a response.
func (k Kind) ExpectsReply() bool {
	switch k {
	case KindPresence, KindAddContact, KindDelContact, KindMessage,
		KindHistoryRequest, KindContactsRequest:
		return true
	default:
		return false
	}
}

// Response status codes.
const (
	StatusOK         = 200
	StatusAccepted   = 202
	StatusBadRequest = 400
	StatusNotFound   = 404
	StatusConflict   = 409
)

// Direction tells whether a chat message was received or sent by the local user.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ChatRecord is one message of a conversation with Peer.
type ChatRecord struct {
	Peer      string
	Direction Direction
	Text      string
	Timestamp time.Time
}

// Envelope is one protocol action or its reply.
type Envelope struct {
	Kind      Kind
	Seq       uint64
	ReplyTo   uint64
	Sender    string
	Recipient string
	Contact   string
	Text      string
	Code      int
	Error     string
	Contacts  []string
	History   []ChatRecord
	Timestamp time.Time
}

// OK reports whether a response envelope signals success.
func (e *Envelope) OK() bool {
	return e.Code >= 200 && e.Code < 300
}

// Validate checks that every field required by the envelope's kind is set.
func (e *Envelope) Validate() error {
	if e.Kind <= KindUnknown || e.Kind > KindResponse {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(e.Kind))
	}
	if e.Timestamp.IsZero() {
		return missing(e.Kind, fieldTimestamp)
	}
	if err := e.validateValues(); err != nil {
		return err
	}
	switch e.Kind {
	case KindPresence, KindContactsRequest, KindExit:
		if e.Sender == "" {
			return missing(e.Kind, fieldSender)
		}
	case KindAddContact, KindDelContact:
		if e.Sender == "" {
			return missing(e.Kind, fieldSender)
		}
		if e.Contact == "" {
			return missing(e.Kind, fieldContact)
		}
	case KindMessage:
		if e.Sender == "" {
			return missing(e.Kind, fieldSender)
		}
		if e.Recipient == "" {
			return missing(e.Kind, fieldRecipient)
		}
		if e.Text == "" {
			return missing(e.Kind, fieldText)
		}
	case KindHistoryRequest:
		if e.Sender == "" {
			return missing(e.Kind, fieldSender)
		}
		if e.Recipient == "" {
			return missing(e.Kind, fieldRecipient)
		}
	case KindResponse:
		if e.Code == 0 {
			return missing(e.Kind, fieldCode)
		}
	}
	return nil
}

// validateValues rejects values the decoder would refuse or read back changed.
func (e *Envelope) validateValues() error {
	if e.Seq > maxExactInteger {
		return fmt.Errorf("%w: %q exceeds %d", ErrMalformed, fieldSeq, uint64(maxExactInteger))
	}
	if e.ReplyTo > maxExactInteger {
		return fmt.Errorf("%w: %q exceeds %d", ErrMalformed, fieldReplyTo, uint64(maxExactInteger))
	}
	if e.Code < 0 || uint64(e.Code) > maxExactInteger {
		return fmt.Errorf("%w: %q is not a non-negative integer", ErrMalformed, fieldCode)
	}
	for i, r := range e.History {
		if r.Direction != DirectionIn && r.Direction != DirectionOut {
			return fmt.Errorf("%w: history[%d] direction %q", ErrMalformed, i, r.Direction)
		}
	}
	return nil
}

func missing(k Kind, field string) error {
	return fmt.Errorf("%w: %s requires %q", ErrMissingField, k, field)
}

func now() time.Time {
	return time.Now().UTC()
}

// NewPresence creates the login announcement sent right after authentication.
func NewPresence(sender string) Envelope {
	return Envelope{Kind: KindPresence, Sender: sender, Timestamp: now()}
}

// NewAddContact creates a request to add name to sender's contact list.
func NewAddContact(sender, name string) Envelope {
	return Envelope{Kind: KindAddContact, Sender: sender, Contact: name, Timestamp: now()}
}

// NewDelContact creates a request to remove name from sender's contact list.
func NewDelContact(sender, name string) Envelope {
	return Envelope{Kind: KindDelContact, Sender: sender, Contact: name, Timestamp: now()}
}

// NewMessage creates a chat message from sender to recipient.
func NewMessage(sender, recipient, text string) Envelope {
	return Envelope{Kind: KindMessage, Sender: sender, Recipient: recipient, Text: text, Timestamp: now()}
}

// NewHistoryRequest asks the server for the conversation between sender and peer.
func NewHistoryRequest(sender, peer string) Envelope {
	return Envelope{Kind: KindHistoryRequest, Sender: sender, Recipient: peer, Timestamp: now()}
}

// NewContactsRequest asks the server for sender's contact list.
func NewContactsRequest(sender string) Envelope {
	return Envelope{Kind: KindContactsRequest, Sender: sender, Timestamp: now()}
}

// NewExit announces that sender is leaving.
func NewExit(sender string) Envelope {
	return Envelope{Kind: KindExit, Sender: sender, Timestamp: now()}
}

// NewResponse creates a reply to the request with sequence token replyTo.
// errText is only meaningful for non-2xx codes.
func NewResponse(replyTo uint64, code int, errText string) Envelope {
	return Envelope{Kind: KindResponse, ReplyTo: replyTo, Code: code, Error: errText, Timestamp: now()}
}
