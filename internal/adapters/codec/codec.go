package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Scheme names written into the "v" field of every tagged payload.
const (
	SchemeBase64  = "base64"
	SchemeAESCBC  = "aes-cbc"
	SchemeXChaCha = "xchacha20poly1305"
)

var (
	ErrDecode        = errors.New("payload decode failed")
	ErrUnknownScheme = errors.New("unknown codec scheme")
	ErrMissingKey    = errors.New("master passphrase is required for this scheme")
	ErrInvalidText   = errors.New("plaintext is not valid UTF-8")
)

// Encoder turns a plaintext record into the opaque cell value.
type Encoder interface {
	Encode(plain string) (string, error)
}

// Decoder turns an opaque cell value back into plaintext.
// Implementations never panic; failures wrap ErrDecode.
type Decoder interface {
	Decode(opaque string) (string, error)
}

// Scheme is one concrete payload encoding. Encode always produces the
// tagged form; Decode accepts the tagged form and, where one exists, the
// scheme's untagged legacy form.
type Scheme interface {
	Encoder
	Decoder
	Name() string
}

// envelope is the JSON object stored in the payload cell.
type envelope struct {
	V     string `json:"v,omitempty"`
	IV    string `json:"iv,omitempty"`
	Nonce string `json:"nonce,omitempty"`
	Value string `json:"value"`
}

func marshalEnvelope(env envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// peekTag returns the scheme tag of a tagged envelope, or "" for legacy data.
func peekTag(opaque string) string {
	s := strings.TrimSpace(opaque)
	if !strings.HasPrefix(s, "{") {
		return ""
	}
	var probe struct {
		V string `json:"v"`
	}
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return ""
	}
	return probe.V
}

func decodeErr(scheme, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrDecode, scheme, fmt.Sprintf(format, args...))
}
