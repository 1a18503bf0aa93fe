package message

import (
	"errors"

	"github.com/danmuck/zremote/internal/protocol"
)

var errNilMessage = errors.New("message: nil message")

// Envelope wraps a message with its plane: {"Control": ...} or {"Data": ...}.
type Envelope struct {
	Message Message
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return Marshal(e.Message)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	m, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Message = m
	return nil
}

// Marshal renders m inside its envelope.
func Marshal(m Message) ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	return protocol.EncodeTagged(string(m.Plane()), tagged{tag: m.Variant(), body: m.body()})
}

// Unmarshal decodes one enveloped message. Unknown planes fail with
// ErrUnknownEnvelopeTag and unknown variants with ErrUnknownVariantTag.
func Unmarshal(data []byte) (Message, error) {
	tag, body, err := protocol.DecodeTagged(protocol.UnionEnvelope, data)
	if err != nil {
		return nil, err
	}
	switch Plane(tag) {
	case PlaneControl:
		return DecodeControl(body)
	case PlaneData:
		return DecodeData(body)
	default:
		return nil, &protocol.UnknownTagError{Union: protocol.UnionEnvelope, Tag: tag}
	}
}
