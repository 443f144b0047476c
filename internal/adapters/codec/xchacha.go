package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const xchachaInfo = "kafer-ledger/v3"

// XChaCha is the authenticated scheme. It has no untagged form: every
// payload carries {"v":"xchacha20poly1305","nonce":...,"value":...}.
type XChaCha struct {
	key  []byte
	rand io.Reader
}

// NewXChaCha derives a 256-bit key from the passphrase with HKDF-SHA256.
// PRE: passphrase is non-empty
func NewXChaCha(passphrase string) (*XChaCha, error) {
	if passphrase == "" {
		return nil, ErrMissingKey
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(passphrase), nil, []byte(xchachaInfo)), key); err != nil {
		return nil, err
	}
	return &XChaCha{key: key, rand: rand.Reader}, nil
}

// Name returns the scheme tag.
func (s *XChaCha) Name() string { return SchemeXChaCha }

// Encode seals plain under a random 24-byte nonce. The scheme tag is bound
// as associated data.
func (s *XChaCha) Encode(plain string) (string, error) {
	if !utf8.ValidString(plain) {
		return "", ErrInvalidText
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nil, nonce, []byte(plain), []byte(SchemeXChaCha))
	return marshalEnvelope(envelope{
		V:     SchemeXChaCha,
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Value: base64.StdEncoding.EncodeToString(ct),
	})
}

// Decode opens a tagged envelope.
// POST: Any modification of nonce or ciphertext, or a wrong key, returns ErrDecode
func (s *XChaCha) Decode(opaque string) (string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(opaque)), &env); err != nil {
		return "", decodeErr(SchemeXChaCha, "malformed envelope")
	}
	if env.V != SchemeXChaCha {
		return "", decodeErr(SchemeXChaCha, "envelope tagged %q", env.V)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return "", decodeErr(SchemeXChaCha, "bad nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(env.Value)
	if err != nil {
		return "", decodeErr(SchemeXChaCha, "bad ciphertext encoding")
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", decodeErr(SchemeXChaCha, "%v", err)
	}
	pt, err := aead.Open(nil, nonce, ct, []byte(SchemeXChaCha))
	if err != nil {
		return "", decodeErr(SchemeXChaCha, "authentication failed")
	}
	if !utf8.Valid(pt) {
		return "", decodeErr(SchemeXChaCha, "plaintext is not valid UTF-8")
	}
	return string(pt), nil
}
