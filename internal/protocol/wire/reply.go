package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/schema"
)

const unionReplyResult = "ReplyResult"

// Reply is one answer to a Get, correlated by the Get's request id.
type Reply struct {
	QueryID uuid.UUID
	Result  ReplyResult
}

// ReplyResult is Ok or Err.
type ReplyResult interface {
	replyResult()
}

// Ok carries a successful reply's sample.
type Ok struct {
	Sample Sample
}

// Err carries a failed reply's error.
type Err struct {
	Error ReplyError
}

func (Ok) replyResult()  {}
func (Err) replyResult() {}

// FromReply captures r under the request id. It fails only when r has
// neither or both of a sample and an error.
func FromReply(r engine.Reply, id uuid.UUID) (Reply, error) {
	switch {
	case r.Sample != nil && r.Err != nil:
		return Reply{}, fmt.Errorf("%w: reply carries both a sample and an error", protocol.ErrInvalidReply)
	case r.Sample != nil:
		return Reply{QueryID: id, Result: Ok{Sample: FromSample(*r.Sample)}}, nil
	case r.Err != nil:
		return Reply{QueryID: id, Result: Err{Error: FromReplyError(*r.Err)}}, nil
	default:
		return Reply{}, fmt.Errorf("%w: reply carries neither a sample nor an error", protocol.ErrInvalidReply)
	}
}

// Engine converts r back into an engine reply.
func (r Reply) Engine() (engine.Reply, error) {
	switch v := r.Result.(type) {
	case Ok:
		s, err := v.Sample.Engine()
		if err != nil {
			return engine.Reply{}, err
		}
		return engine.Reply{Sample: &s}, nil
	case Err:
		e, err := v.Error.Engine()
		if err != nil {
			return engine.Reply{}, err
		}
		return engine.Reply{Err: &e}, nil
	default:
		return engine.Reply{}, fmt.Errorf("%w: empty result", protocol.ErrInvalidReply)
	}
}

type replyEnvelope struct {
	QueryID uuid.UUID       `json:"query_uuid"`
	Result  json.RawMessage `json:"result"`
}

func (r Reply) MarshalJSON() ([]byte, error) {
	var (
		result []byte
		err    error
	)
	switch v := r.Result.(type) {
	case Ok:
		result, err = protocol.EncodeTagged("Ok", v.Sample)
	case Err:
		result, err = protocol.EncodeTagged("Err", v.Error)
	default:
		return nil, fmt.Errorf("%w: empty result", protocol.ErrInvalidReply)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(replyEnvelope{QueryID: r.QueryID, Result: result})
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	var raw replyEnvelope
	if err := schema.DecodeStruct(schema.VariantReplyWS, data, &raw); err != nil {
		return err
	}
	tag, body, err := protocol.DecodeTagged(unionReplyResult, raw.Result)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidReply, err)
	}
	var result ReplyResult
	switch tag {
	case "Ok":
		var s Sample
		if err := s.UnmarshalJSON(body); err != nil {
			return err
		}
		result = Ok{Sample: s}
	case "Err":
		var e ReplyError
		if err := e.UnmarshalJSON(body); err != nil {
			return err
		}
		result = Err{Error: e}
	default:
		return &protocol.UnknownTagError{Union: unionReplyResult, Tag: tag}
	}
	*r = Reply{QueryID: raw.QueryID, Result: result}
	return nil
}
