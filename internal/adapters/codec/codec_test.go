package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const testPassphrase = "kafer-master"

// legacyAESRow was produced by an older client: untagged AES-256-CBC with
// key SHA-256("kafer-master") and IV 00..0f.
const legacyAESRow = `{"iv":"AAECAwQFBgcICQoLDA0ODw==","value":"IpcnWVF52ku889nGPJpZqfVEd2K1XTMLyF2oKDN9Old4h6mkmN9mL3apCp7zRkonDFgrYY59GwtNXJZZGqtZfNEYJ/gxDOfP6XOBgZ7gyDBANhIzAF5k6g1EIQ5cbUCnwP3uQEbazil0xo4JB3J4ng=="}`

const legacyAESPlain = `{"name":"Alice","kaferId":"1001","type":"register","timestamp":"2025-01-01T00:00:00.000Z","pass":"pw"}`

// legacyBase64Row is the bare Base64 form written by clients without encryption.
const legacyBase64Row = "eyJ0eXBlIjoiYW5ub3VuY2VtZW50IiwibWVzc2FnZSI6IuODhuOCueODiCJ9"

func allSchemes(t *testing.T) []Scheme {
	t.Helper()
	aes, err := NewAESCBC(testPassphrase)
	if err != nil {
		t.Fatalf("NewAESCBC() error = %v", err)
	}
	x, err := NewXChaCha(testPassphrase)
	if err != nil {
		t.Fatalf("NewXChaCha() error = %v", err)
	}
	return []Scheme{NewBase64(), aes, x}
}

func TestSchemes_RoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"hello",
		`{"type":"register","name":"アリス"}`,
		"emoji 🎉 and NUL \x00 and\ttabs\n",
		strings.Repeat("x", 16),
		strings.Repeat("長い", 500),
	}
	for _, s := range allSchemes(t) {
		for _, in := range inputs {
			t.Run(s.Name(), func(t *testing.T) {
				enc, err := s.Encode(in)
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}
				if peekTag(enc) != s.Name() {
					t.Errorf("Encode() tag = %q, want %q", peekTag(enc), s.Name())
				}
				got, err := s.Decode(enc)
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}
				if got != in {
					t.Errorf("Decode(Encode(%q)) = %q", in, got)
				}
			})
		}
	}
}

func TestSchemes_RejectInvalidUTF8(t *testing.T) {
	for _, s := range allSchemes(t) {
		if _, err := s.Encode("\xff\xfe"); !errors.Is(err, ErrInvalidText) {
			t.Errorf("%s Encode(invalid utf8) error = %v, want ErrInvalidText", s.Name(), err)
		}
	}
}

func TestEncryptedSchemes_FreshRandomness(t *testing.T) {
	for _, s := range allSchemes(t)[1:] {
		a, err := s.Encode("same input")
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		b, err := s.Encode("same input")
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if a == b {
			t.Errorf("%s: two encodings of the same input are identical", s.Name())
		}
	}
}

func TestAESCBC_DecodesLegacyClientPayload(t *testing.T) {
	s, err := NewAESCBC(testPassphrase)
	if err != nil {
		t.Fatalf("NewAESCBC() error = %v", err)
	}
	got, err := s.Decode(legacyAESRow)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != legacyAESPlain {
		t.Errorf("Decode() = %q, want %q", got, legacyAESPlain)
	}
}

func TestAESCBC_Failures(t *testing.T) {
	right, _ := NewAESCBC(testPassphrase)
	wrong, _ := NewAESCBC("not-the-passphrase")

	enc, err := right.Encode(legacyAESPlain)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(enc), &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	ct, _ := base64.StdEncoding.DecodeString(env.Value)
	truncated := env
	truncated.Value = base64.StdEncoding.EncodeToString(ct[:len(ct)-3])
	shortIV := env
	shortIV.IV = base64.StdEncoding.EncodeToString([]byte("short"))

	tests := []struct {
		name  string
		codec *AESCBC
		input string
	}{
		{"wrong key", wrong, enc},
		{"not json", right, "garbage"},
		{"missing value", right, `{"iv":"AAECAwQFBgcICQoLDA0ODw=="}`},
		{"truncated ciphertext", right, mustEnvelope(t, truncated)},
		{"short iv", right, mustEnvelope(t, shortIV)},
		{"other scheme tag", right, `{"v":"base64","value":"aGk="}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.codec.Decode(tt.input); !errors.Is(err, ErrDecode) {
				t.Errorf("Decode() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestXChaCha_DetectsTampering(t *testing.T) {
	s, _ := NewXChaCha(testPassphrase)
	wrong, _ := NewXChaCha("not-the-passphrase")

	enc, err := s.Encode(legacyAESPlain)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(enc), &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	ct, _ := base64.StdEncoding.DecodeString(env.Value)
	ct[0] ^= 0x01
	tampered := env
	tampered.Value = base64.StdEncoding.EncodeToString(ct)

	if _, err := s.Decode(mustEnvelope(t, tampered)); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(tampered) error = %v, want ErrDecode", err)
	}
	if _, err := wrong.Decode(enc); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(wrong key) error = %v, want ErrDecode", err)
	}
	if _, err := s.Decode(`{"nonce":"","value":""}`); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(untagged) error = %v, want ErrDecode", err)
	}
}

func TestBase64_DecodesLegacyClientPayload(t *testing.T) {
	got, err := NewBase64().Decode(legacyBase64Row)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != `{"type":"announcement","message":"テスト"}` {
		t.Errorf("Decode() = %q", got)
	}
	if _, err := NewBase64().Decode("!!not base64!!"); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(garbage) error = %v, want ErrDecode", err)
	}
	if _, err := NewBase64().Decode(base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe})); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(non-utf8) error = %v, want ErrDecode", err)
	}
}

func TestVersioned_DispatchesByTagAndLegacyList(t *testing.T) {
	v, err := New(Options{
		MasterPassphrase: testPassphrase,
		WriteScheme:      SchemeXChaCha,
		LegacySchemes:    []string{SchemeAESCBC, SchemeBase64},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	enc, err := v.Encode("fresh")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	res, err := v.DecodeWithScheme(enc)
	if err != nil || res.Plain != "fresh" || res.Scheme != SchemeXChaCha || res.Legacy {
		t.Errorf("tagged decode = %+v, %v", res, err)
	}

	res, err = v.DecodeWithScheme(legacyAESRow)
	if err != nil || res.Plain != legacyAESPlain || res.Scheme != SchemeAESCBC || !res.Legacy {
		t.Errorf("legacy aes decode = %+v, %v", res, err)
	}

	res, err = v.DecodeWithScheme(legacyBase64Row)
	if err != nil || res.Scheme != SchemeBase64 || !res.Legacy {
		t.Errorf("legacy base64 decode = %+v, %v", res, err)
	}

	// Tagged payloads of other known schemes stay readable after a switch.
	b64, _ := NewBase64().Encode("old")
	if got, err := v.Decode(b64); err != nil || got != "old" {
		t.Errorf("Decode(tagged base64) = %q, %v", got, err)
	}

	if _, err := v.Decode(`{"v":"rot13","value":"x"}`); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(unknown tag) error = %v, want ErrDecode", err)
	}
}

func TestVersioned_UntaggedWithoutLegacySchemes(t *testing.T) {
	v, err := New(Options{MasterPassphrase: testPassphrase, WriteScheme: SchemeAESCBC})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := v.Decode(legacyBase64Row); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(untagged) error = %v, want ErrDecode", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(Options{WriteScheme: "rot13"}); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("New(rot13) error = %v, want ErrUnknownScheme", err)
	}
	if _, err := New(Options{WriteScheme: SchemeAESCBC}); !errors.Is(err, ErrMissingKey) {
		t.Errorf("New(aes-cbc, no key) error = %v, want ErrMissingKey", err)
	}
	if _, err := New(Options{WriteScheme: SchemeBase64}); err != nil {
		t.Errorf("New(base64, no key) error = %v, want nil", err)
	}
}

func mustEnvelope(t *testing.T, env envelope) string {
	t.Helper()
	s, err := marshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshalEnvelope() error = %v", err)
	}
	return s
}
