package codec

import (
	"fmt"
	"strings"
)

// DecodeResult reports which scheme decoded a payload.
// Legacy is true when the payload carried no scheme tag.
type DecodeResult struct {
	Plain  string
	Scheme string
	Legacy bool
}

// Versioned writes with one scheme and reads any tagged payload whose
// scheme it knows. Untagged payloads are tried only against the configured
// legacy schemes, in order.
type Versioned struct {
	writer Scheme
	known  map[string]Scheme
	legacy []Scheme
}

// NewVersioned wires a writer, the set of readable schemes and the legacy
// fallbacks. The writer and legacy schemes are added to the readable set.
func NewVersioned(writer Scheme, legacy []Scheme, extra ...Scheme) *Versioned {
	v := &Versioned{writer: writer, known: map[string]Scheme{}, legacy: legacy}
	for _, s := range append(append([]Scheme{writer}, legacy...), extra...) {
		if s != nil {
			v.known[s.Name()] = s
		}
	}
	return v
}

// Options selects schemes by name.
type Options struct {
	MasterPassphrase string
	WriteScheme      string
	LegacySchemes    []string
}

// New builds a Versioned codec from scheme names. Every scheme that can be
// built from the passphrase is readable when tagged.
// PRE: WriteScheme and LegacySchemes name known schemes
// POST: Returns ErrUnknownScheme or ErrMissingKey on bad options
func New(opts Options) (*Versioned, error) {
	build := func(name string) (Scheme, error) {
		switch strings.TrimSpace(name) {
		case SchemeBase64:
			return NewBase64(), nil
		case SchemeAESCBC:
			return NewAESCBC(opts.MasterPassphrase)
		case SchemeXChaCha:
			return NewXChaCha(opts.MasterPassphrase)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
		}
	}

	writer, err := build(opts.WriteScheme)
	if err != nil {
		return nil, fmt.Errorf("write scheme: %w", err)
	}
	var legacy []Scheme
	for _, name := range opts.LegacySchemes {
		s, err := build(name)
		if err != nil {
			return nil, fmt.Errorf("legacy scheme: %w", err)
		}
		legacy = append(legacy, s)
	}

	var extra []Scheme
	extra = append(extra, NewBase64())
	if opts.MasterPassphrase != "" {
		for _, name := range []string{SchemeAESCBC, SchemeXChaCha} {
			if s, err := build(name); err == nil {
				extra = append(extra, s)
			}
		}
	}
	return NewVersioned(writer, legacy, extra...), nil
}

// WriteScheme returns the name of the scheme used by Encode.
func (v *Versioned) WriteScheme() string {
	return v.writer.Name()
}

// Encode encodes plain with the write scheme.
func (v *Versioned) Encode(plain string) (string, error) {
	return v.writer.Encode(plain)
}

// Decode implements Decoder.
func (v *Versioned) Decode(opaque string) (string, error) {
	res, err := v.DecodeWithScheme(opaque)
	return res.Plain, err
}

// DecodeWithScheme decodes opaque and reports the scheme that matched.
// INVARIANT: a tagged payload is only ever decoded by the scheme it names
func (v *Versioned) DecodeWithScheme(opaque string) (DecodeResult, error) {
	if tag := peekTag(opaque); tag != "" {
		s, ok := v.known[tag]
		if !ok {
			return DecodeResult{}, fmt.Errorf("%w: unknown scheme tag %q", ErrDecode, tag)
		}
		plain, err := s.Decode(opaque)
		if err != nil {
			return DecodeResult{}, err
		}
		return DecodeResult{Plain: plain, Scheme: tag}, nil
	}

	if len(v.legacy) == 0 {
		return DecodeResult{}, fmt.Errorf("%w: untagged payload and no legacy scheme configured", ErrDecode)
	}
	var lastErr error
	for _, s := range v.legacy {
		plain, err := s.Decode(opaque)
		if err == nil {
			return DecodeResult{Plain: plain, Scheme: s.Name(), Legacy: true}, nil
		}
		lastErr = err
	}
	return DecodeResult{}, lastErr
}
