package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"
)

// AESCBC is the interoperable encryption scheme: AES-256-CBC with PKCS#7
// padding, key = SHA-256(passphrase), fresh random IV per payload.
// Untagged {"iv","value"} envelopes from older clients decode unchanged.
type AESCBC struct {
	key  [32]byte
	rand io.Reader
}

// NewAESCBC derives the key from the shared master passphrase.
// PRE: passphrase is non-empty
func NewAESCBC(passphrase string) (*AESCBC, error) {
	if passphrase == "" {
		return nil, ErrMissingKey
	}
	return &AESCBC{key: sha256.Sum256([]byte(passphrase)), rand: rand.Reader}, nil
}

// Name returns the scheme tag.
func (s *AESCBC) Name() string { return SchemeAESCBC }

// Encode encrypts plain under a new random IV.
// POST: Two calls with the same input produce different outputs
func (s *AESCBC) Encode(plain string) (string, error) {
	if !utf8.ValidString(plain) {
		return "", ErrInvalidText
	}
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(s.rand, iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return marshalEnvelope(envelope{
		V:     SchemeAESCBC,
		IV:    base64.StdEncoding.EncodeToString(iv),
		Value: base64.StdEncoding.EncodeToString(ct),
	})
}

// Decode decrypts a tagged or legacy untagged envelope.
// POST: Wrong key, tampering that breaks padding, and malformed input all return ErrDecode
func (s *AESCBC) Decode(opaque string) (string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(opaque)), &env); err != nil {
		return "", decodeErr(SchemeAESCBC, "malformed envelope")
	}
	if env.V != "" && env.V != SchemeAESCBC {
		return "", decodeErr(SchemeAESCBC, "envelope tagged %q", env.V)
	}
	if env.IV == "" || env.Value == "" {
		return "", decodeErr(SchemeAESCBC, "missing iv or value")
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", decodeErr(SchemeAESCBC, "bad iv")
	}
	ct, err := base64.StdEncoding.DecodeString(env.Value)
	if err != nil {
		return "", decodeErr(SchemeAESCBC, "bad ciphertext encoding")
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", decodeErr(SchemeAESCBC, "ciphertext length %d", len(ct))
	}

	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", decodeErr(SchemeAESCBC, "%v", err)
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	pt, ok := pkcs7Unpad(pt, aes.BlockSize)
	if !ok {
		return "", decodeErr(SchemeAESCBC, "bad padding")
	}
	if !utf8.Valid(pt) {
		return "", decodeErr(SchemeAESCBC, "plaintext is not valid UTF-8")
	}
	return string(pt), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
