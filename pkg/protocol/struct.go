package protocol

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldKind      = "kind"
	fieldSeq       = "seq"
	fieldReplyTo   = "reply_to"
	fieldSender    = "sender"
	fieldRecipient = "recipient"
	fieldContact   = "contact"
	fieldText      = "text"
	fieldCode      = "code"
	fieldError     = "error"
	fieldContacts  = "contacts"
	fieldHistory   = "history"
	fieldTimestamp = "timestamp"
	fieldPeer      = "peer"
	fieldDirection = "direction"
)

// toProto converts the Envelope to a protobuf Struct.
// This conversion isolates protobuf implementation details from the public API.
// Empty optional fields are omitted so that decoding restores zero values.
func (e *Envelope) toProto() *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldKind:      structpb.NewStringValue(e.Kind.String()),
		fieldTimestamp: structpb.NewStringValue(formatTime(e.Timestamp)),
	}
	putUint(fields, fieldSeq, e.Seq)
	putUint(fields, fieldReplyTo, e.ReplyTo)
	putString(fields, fieldSender, e.Sender)
	putString(fields, fieldRecipient, e.Recipient)
	putString(fields, fieldContact, e.Contact)
	putString(fields, fieldText, e.Text)
	putString(fields, fieldError, e.Error)
	if e.Code != 0 {
		fields[fieldCode] = structpb.NewNumberValue(float64(e.Code))
	}
	if len(e.Contacts) > 0 {
		values := make([]*structpb.Value, len(e.Contacts))
		for i, c := range e.Contacts {
			values[i] = structpb.NewStringValue(c)
		}
		fields[fieldContacts] = structpb.NewListValue(&structpb.ListValue{Values: values})
	}
	if len(e.History) > 0 {
		values := make([]*structpb.Value, len(e.History))
		for i, r := range e.History {
			values[i] = structpb.NewStructValue(recordToProto(r))
		}
		fields[fieldHistory] = structpb.NewListValue(&structpb.ListValue{Values: values})
	}
	return &structpb.Struct{Fields: fields}
}

// fromProto populates the Envelope from a protobuf Struct.
// Unlike the encoder it has to distrust its input: wrong value types are
// malformed, and the kind decides which fields must be present.
func (e *Envelope) fromProto(s *structpb.Struct) error {
	f := s.GetFields()

	kindName, err := stringField(f, fieldKind)
	if err != nil {
		return err
	}
	if kindName == "" {
		return fmt.Errorf("%w: %q", ErrMissingField, fieldKind)
	}
	kind, ok := ParseKind(kindName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kindName)
	}

	var out Envelope
	out.Kind = kind
	if out.Timestamp, err = timeField(f, fieldTimestamp); err != nil {
		return err
	}
	if out.Seq, err = uintField(f, fieldSeq); err != nil {
		return err
	}
	if out.ReplyTo, err = uintField(f, fieldReplyTo); err != nil {
		return err
	}
	code, err := uintField(f, fieldCode)
	if err != nil {
		return err
	}
	out.Code = int(code)
	for name, dst := range map[string]*string{
		fieldSender:    &out.Sender,
		fieldRecipient: &out.Recipient,
		fieldContact:   &out.Contact,
		fieldText:      &out.Text,
		fieldError:     &out.Error,
	} {
		if *dst, err = stringField(f, name); err != nil {
			return err
		}
	}
	if out.Contacts, err = contactsField(f); err != nil {
		return err
	}
	if out.History, err = historyField(f); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*e = out
	return nil
}

func recordToProto(r ChatRecord) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldDirection: structpb.NewStringValue(string(r.Direction)),
		fieldText:      structpb.NewStringValue(r.Text),
		fieldTimestamp: structpb.NewStringValue(formatTime(r.Timestamp)),
	}
	putString(fields, fieldPeer, r.Peer)
	return &structpb.Struct{Fields: fields}
}

func recordFromProto(s *structpb.Struct) (ChatRecord, error) {
	f := s.GetFields()
	var r ChatRecord
	var err error
	if r.Peer, err = stringField(f, fieldPeer); err != nil {
		return ChatRecord{}, err
	}
	dir, err := stringField(f, fieldDirection)
	if err != nil {
		return ChatRecord{}, err
	}
	switch Direction(dir) {
	case DirectionIn, DirectionOut:
		r.Direction = Direction(dir)
	default:
		return ChatRecord{}, fmt.Errorf("%w: history direction %q", ErrMalformed, dir)
	}
	if r.Text, err = stringField(f, fieldText); err != nil {
		return ChatRecord{}, err
	}
	if r.Timestamp, err = timeField(f, fieldTimestamp); err != nil {
		return ChatRecord{}, err
	}
	return r, nil
}

func putString(fields map[string]*structpb.Value, name, v string) {
	if v != "" {
		fields[name] = structpb.NewStringValue(v)
	}
}

func putUint(fields map[string]*structpb.Value, name string, v uint64) {
	if v != 0 {
		fields[name] = structpb.NewNumberValue(float64(v))
	}
}

func stringField(f map[string]*structpb.Value, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: field %q is not a string", ErrMalformed, name)
	}
	return s.StringValue, nil
}

// maxExactInteger is the largest integer a JSON number carries without loss.
const maxExactInteger = 1 << 53

func uintField(f map[string]*structpb.Value, name string) (uint64, error) {
	v, ok := f[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: field %q is not a number", ErrMalformed, name)
	}
	x := n.NumberValue
	if x < 0 || x > maxExactInteger || x != math.Trunc(x) {
		return 0, fmt.Errorf("%w: field %q is not a non-negative integer", ErrMalformed, name)
	}
	return uint64(x), nil
}

func timeField(f map[string]*structpb.Value, name string) (time.Time, error) {
	s, err := stringField(f, name)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: field %q: %v", ErrMalformed, name, err)
	}
	return t.UTC(), nil
}

func contactsField(f map[string]*structpb.Value) ([]string, error) {
	list, err := listField(f, fieldContacts)
	if err != nil || list == nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: contacts entry is not a string", ErrMalformed)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func historyField(f map[string]*structpb.Value) ([]ChatRecord, error) {
	list, err := listField(f, fieldHistory)
	if err != nil || list == nil {
		return nil, err
	}
	out := make([]ChatRecord, 0, len(list))
	for _, v := range list {
		s, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return nil, fmt.Errorf("%w: history entry is not an object", ErrMalformed)
		}
		r, err := recordFromProto(s.StructValue)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func listField(f map[string]*structpb.Value, name string) ([]*structpb.Value, error) {
	v, ok := f[name]
	if !ok {
		return nil, nil
	}
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not a list", ErrMalformed, name)
	}
	return l.ListValue.GetValues(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
