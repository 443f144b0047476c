package codec

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Base64 is the obfuscation-only scheme. Legacy rows hold the bare Base64
// of the UTF-8 plaintext; tagged rows wrap it in {"v":"base64","value":...}.
type Base64 struct{}

// NewBase64 returns the Base64 scheme.
func NewBase64() Base64 { return Base64{} }

// Name returns the scheme tag.
func (Base64) Name() string { return SchemeBase64 }

// Encode returns the tagged Base64 envelope.
// POST: Decode(Encode(s)) == s for every valid UTF-8 string s
func (Base64) Encode(plain string) (string, error) {
	if !utf8.ValidString(plain) {
		return "", ErrInvalidText
	}
	return marshalEnvelope(envelope{V: SchemeBase64, Value: base64.StdEncoding.EncodeToString([]byte(plain))})
}

// Decode accepts the tagged envelope or a bare Base64 string.
func (Base64) Decode(opaque string) (string, error) {
	value := strings.TrimSpace(opaque)
	if strings.HasPrefix(value, "{") {
		var env envelope
		if err := json.Unmarshal([]byte(value), &env); err != nil {
			return "", decodeErr(SchemeBase64, "malformed envelope")
		}
		if env.V != SchemeBase64 {
			return "", decodeErr(SchemeBase64, "envelope tagged %q", env.V)
		}
		value = env.Value
	} else if value == "" {
		return "", decodeErr(SchemeBase64, "empty value")
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", decodeErr(SchemeBase64, "%v", err)
	}
	if !utf8.Valid(raw) {
		return "", decodeErr(SchemeBase64, "plaintext is not valid UTF-8")
	}
	return string(raw), nil
}
