package gateway

import (
	"errors"

	"github.com/danmuck/zremote/internal/protocol"
)

// Decode error kinds reported to metrics.
const (
	kindTooLarge      = "too_large"
	kindEnumCode      = "enum_code"
	kindBinaryPayload = "binary_payload"
	kindEnvelopeTag   = "envelope_tag"
	kindVariantTag    = "variant_tag"
	kindMissingField  = "missing_field"
	kindInvalidReply  = "invalid_reply"
	kindMalformed     = "malformed"
)

func decodeErrorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformedEnumCode):
		return kindEnumCode
	case errors.Is(err, protocol.ErrMalformedBinaryPayload):
		return kindBinaryPayload
	case errors.Is(err, protocol.ErrUnknownEnvelopeTag):
		return kindEnvelopeTag
	case errors.Is(err, protocol.ErrUnknownVariantTag):
		return kindVariantTag
	case errors.Is(err, protocol.ErrMissingField):
		return kindMissingField
	case errors.Is(err, protocol.ErrInvalidReply):
		return kindInvalidReply
	default:
		return kindMalformed
	}
}
