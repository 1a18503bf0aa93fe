package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var b64 = base64.StdEncoding.Strict()

// B64String is the standard-base64 text form of an opaque byte payload.
// Every payload and attachment field on the wire is a B64String.
type B64String string

// WrapBytes encodes b. The empty slice wraps to the empty string.
func WrapBytes(b []byte) B64String {
	return B64String(b64.EncodeToString(b))
}

// ParseB64String validates s and returns it as a B64String.
func ParseB64String(s string) (B64String, error) {
	if _, err := decodeB64(s); err != nil {
		return "", err
	}
	return B64String(s), nil
}

// Unwrap decodes the exact original bytes.
func (s B64String) Unwrap() ([]byte, error) {
	return decodeB64(string(s))
}

// MustUnwrap decodes s and panics on malformed text. Only valid for values
// produced by WrapBytes or accepted by a decoder.
func (s B64String) MustUnwrap() []byte {
	b, err := s.Unwrap()
	if err != nil {
		panic(err)
	}
	return b
}

// MarshalJSON refuses text that a decoder would reject.
func (s B64String) MarshalJSON() ([]byte, error) {
	if _, err := decodeB64(string(s)); err != nil {
		return nil, err
	}
	return json.Marshal(string(s))
}

func (s *B64String) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return &MalformedPayloadError{Err: err}
	}
	v, err := ParseB64String(text)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// WrapOptional wraps b when present.
func WrapOptional(b []byte, ok bool) *B64String {
	if !ok {
		return nil
	}
	v := WrapBytes(b)
	return &v
}

func decodeB64(s string) ([]byte, error) {
	// The std decoder silently skips CR/LF; the wire form never carries them.
	if strings.ContainsAny(s, "\r\n") {
		return nil, &MalformedPayloadError{Err: errors.New("line break in base64 text")}
	}
	b, err := b64.DecodeString(s)
	if err != nil {
		return nil, &MalformedPayloadError{Err: err}
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}
