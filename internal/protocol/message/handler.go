package message

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
)

const unionHandlerChannel = "HandlerChannel"

// HandlerChannel tells the gateway how to buffer events for a subscriber or
// get: {"Fifo": n} blocks when full, {"Ring": n} drops the oldest.
type HandlerChannel struct {
	Kind     engine.HandlerKind
	Capacity int
}

func Fifo(capacity int) HandlerChannel {
	return HandlerChannel{Kind: engine.HandlerFifo, Capacity: capacity}
}

func Ring(capacity int) HandlerChannel {
	return HandlerChannel{Kind: engine.HandlerRing, Capacity: capacity}
}

// Engine returns the engine handler h describes.
func (h HandlerChannel) Engine() engine.Handler {
	return engine.Handler{Kind: h.Kind, Capacity: h.Capacity}
}

func (h HandlerChannel) MarshalJSON() ([]byte, error) {
	if err := h.Engine().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s %d", err, h.Kind, h.Capacity)
	}
	return protocol.EncodeTagged(h.Kind.String(), h.Capacity)
}

func (h *HandlerChannel) UnmarshalJSON(data []byte) error {
	tag, body, err := protocol.DecodeTagged(unionHandlerChannel, data)
	if err != nil {
		return err
	}
	var kind engine.HandlerKind
	switch tag {
	case "Fifo":
		kind = engine.HandlerFifo
	case "Ring":
		kind = engine.HandlerRing
	default:
		return &protocol.UnknownTagError{Union: unionHandlerChannel, Tag: tag}
	}
	if protocol.IsNull(body) {
		return &protocol.MissingFieldError{Variant: unionHandlerChannel + "." + tag, Field: "capacity"}
	}
	var capacity int
	if err := json.Unmarshal(body, &capacity); err != nil {
		return protocol.Malformed(unionHandlerChannel, "%s capacity: %v", tag, err)
	}
	if capacity < 1 {
		return protocol.Malformed(unionHandlerChannel, "%s capacity %d below 1", tag, capacity)
	}
	*h = HandlerChannel{Kind: kind, Capacity: capacity}
	return nil
}
