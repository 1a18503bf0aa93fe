package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEnumCode      = errors.New("protocol: malformed enum code")
	ErrMalformedBinaryPayload = errors.New("protocol: malformed binary payload")
	ErrUnknownEnvelopeTag     = errors.New("protocol: unknown envelope tag")
	ErrUnknownVariantTag      = errors.New("protocol: unknown variant tag")
	ErrMissingField           = errors.New("protocol: missing required field")
	ErrMalformedMessage       = errors.New("protocol: malformed message")
	ErrProtocolViolation      = errors.New("protocol: protocol violation")
	ErrInvalidReply           = errors.New("protocol: invalid reply")
)

// MalformedEnumCodeError reports a wire code outside an enumeration's code set.
type MalformedEnumCodeError struct {
	Enum string
	Raw  string
}

func (e *MalformedEnumCodeError) Error() string {
	return fmt.Sprintf("protocol: value %s not valid for %s enum", e.Raw, e.Enum)
}

func (e *MalformedEnumCodeError) Unwrap() error {
	return ErrMalformedEnumCode
}

// MalformedPayloadError reports base64 text that does not decode.
type MalformedPayloadError struct {
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("protocol: malformed base64 payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() []error {
	return []error{ErrMalformedBinaryPayload, e.Err}
}

// UnknownTagError reports a tag that names no variant of Union.
type UnknownTagError struct {
	Union string
	Tag   string
}

// UnionEnvelope is the union name used for top-level envelope tags.
const UnionEnvelope = "RemoteAPIMsg"

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("protocol: unknown %s variant %q", e.Union, e.Tag)
}

func (e *UnknownTagError) Unwrap() error {
	if e.Union == UnionEnvelope {
		return ErrUnknownEnvelopeTag
	}
	return ErrUnknownVariantTag
}

// MissingFieldError reports a required field absent (or null) in a decoded variant.
type MissingFieldError struct {
	Variant string
	Field   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("protocol: %s missing required field %q", e.Variant, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// malformed wraps a decode failure that has no more specific kind.
func malformed(union string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, union, err)
}

// Malformed builds an ErrMalformedMessage error scoped to a union or variant name.
func Malformed(scope string, format string, args ...any) error {
	return malformed(scope, fmt.Errorf(format, args...))
}
