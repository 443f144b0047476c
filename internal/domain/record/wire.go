package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout matches the ISO-8601 strings written by browser clients.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Number is an integer amount that tolerates the loose encodings found in
// older rows: JSON numbers, integral floats, and numeric strings.
type Number int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*n = Number(v)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return fmt.Errorf("not an integer amount: %q", s)
	}
	*n = Number(f)
	return nil
}

// flexString accepts a JSON string or number. Identifiers typed into number
// inputs sometimes arrive unquoted.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*f = flexString(num.String())
	return nil
}

type envelope struct {
	Name      flexString `json:"name"`
	KaferID   flexString `json:"kaferId"`
	Type      string     `json:"type"`
	Timestamp string     `json:"timestamp"`
}

// FormatTimestamp renders t the way clients write it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an RFC 3339 timestamp with optional fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}

// DecodeJSON parses one flat decoded row into a Record.
// PRE: data is the JSON object produced by decoding a payload cell
// POST: Returns a validated record with Seq set, or an error wrapping ErrInvalidRecord
// INVARIANT: unknown kinds decode to an Unknown payload instead of failing
func DecodeJSON(data []byte, seq int) (Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if env.Type == "" {
		return Record{}, fmt.Errorf("%w: missing type", ErrInvalidRecord)
	}
	if env.Timestamp == "" {
		return Record{}, fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)
	}
	ts, err := ParseTimestamp(env.Timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidRecord, env.Timestamp)
	}

	kind := Kind(env.Type)
	payload, err := decodePayload(kind, data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, kind, err)
	}
	if reg, ok := payload.(Register); ok {
		reg.MemberID = string(env.KaferID)
		reg.DisplayName = string(env.Name)
		payload = reg
	}

	rec := Record{
		Kind:      kind,
		ActorName: string(env.Name),
		ActorID:   string(env.KaferID),
		Timestamp: ts,
		Seq:       seq,
		Payload:   payload,
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func decodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindRegister:
		return decodeAs[Register](data)
	case KindRemove:
		return decodeAs[Remove](data)
	case KindNameUpdate:
		return decodeAs[NameUpdate](data)
	case KindPassUpdate:
		return decodeAs[PassUpdate](data)
	case KindMoneyCodeIssue:
		return decodeAs[MoneyCodeIssue](data)
	case KindPayment:
		return decodeAs[Payment](data)
	case KindMoneyCodeVoid:
		return decodeAs[MoneyCodeVoid](data)
	case KindRefundRequest:
		return decodeAs[RefundRequest](data)
	case KindRefundApproved:
		return decodeAs[RefundApproved](data)
	case KindAnnouncement:
		return decodeAs[Announcement](data)
	case KindConfig:
		return decodeAs[Config](data)
	case KindSystemConfig:
		return decodeAs[SystemConfig](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: string(kind), Raw: raw}, nil
	}
}

func decodeAs[P Payload](data []byte) (Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// MarshalJSON renders the record as the flat object clients store:
// envelope fields plus the payload's fields at the top level.
func (r Record) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	switch p := r.Payload.(type) {
	case nil:
	case Unknown:
		if len(p.Raw) > 0 {
			if err := json.Unmarshal(p.Raw, &fields); err != nil {
				return nil, err
			}
		}
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, err
		}
	}

	env := map[string]string{
		"name":      r.ActorName,
		"kaferId":   r.ActorID,
		"type":      string(r.Kind),
		"timestamp": FormatTimestamp(r.Timestamp),
	}
	for k, v := range env {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[k] = b
	}
	return json.Marshal(fields)
}
