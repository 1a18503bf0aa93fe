// Package message defines the control and data vocabulary exchanged between
// a remote client and the gateway, and the envelope that tags each message
// with its plane.
//
// Every message is a value type. Marshal and Unmarshal are pure and safe
// for concurrent use.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/protocol"
)

// Plane is the top-level envelope tag.
type Plane string

const (
	PlaneControl Plane = "Control"
	PlaneData    Plane = "Data"
)

// Message is any control or data message. The set is closed.
type Message interface {
	Plane() Plane
	// Variant is the wire tag of the message inside its plane.
	Variant() string
	body() any
}

// ControlMsg is a session or declaration lifecycle message.
type ControlMsg interface {
	Message
	controlMsg()
}

// DataMsg is a payload-bearing message.
type DataMsg interface {
	Message
	dataMsg()
}

// tagged renders an externally tagged value nested inside another one.
type tagged struct {
	tag  string
	body any
}

func (t tagged) MarshalJSON() ([]byte, error) {
	return protocol.EncodeTagged(t.tag, t.body)
}

// decodeID reads the identifier carried by a newtype variant.
func decodeID(variant string, body json.RawMessage) (uuid.UUID, error) {
	if protocol.IsNull(body) {
		return uuid.Nil, &protocol.MissingFieldError{Variant: variant, Field: "id"}
	}
	var id uuid.UUID
	if err := json.Unmarshal(body, &id); err != nil {
		return uuid.Nil, protocol.Malformed(variant, "%v", err)
	}
	return id, nil
}

// decodeUnit accepts a unit variant written as a bare tag or with a null body.
func decodeUnit(variant string, body json.RawMessage) error {
	if !protocol.IsNull(body) {
		return protocol.Malformed(variant, "unit variant carries a body")
	}
	return nil
}

// Describe renders m for logs.
func Describe(m Message) string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s.%s", m.Plane(), m.Variant())
}
