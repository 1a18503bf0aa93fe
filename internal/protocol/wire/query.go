package wire

import (
	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/schema"
)

// Query is the wire form of an incoming query, tagged with the id the
// gateway uses to correlate the client's reply.
type Query struct {
	QueryID    uuid.UUID           `json:"query_uuid"`
	KeyExpr    keyexpr.KeyExpr     `json:"key_expr"`
	Parameters string              `json:"parameters"`
	Encoding   *string             `json:"encoding"`
	Attachment *protocol.B64String `json:"attachment"`
	Payload    *protocol.B64String `json:"payload"`
}

// FromQuery captures q under the correlation id.
func FromQuery(q engine.Query, id uuid.UUID) Query {
	out := Query{
		QueryID:    id,
		KeyExpr:    q.KeyExpr(),
		Parameters: q.Parameters(),
	}
	if enc, ok := q.Encoding(); ok {
		out.Encoding = protocol.Ptr(enc)
	}
	out.Payload = protocol.WrapOptional(q.Payload())
	out.Attachment = protocol.WrapOptional(q.Attachment())
	return out
}

type queryFields Query

func (q *Query) UnmarshalJSON(data []byte) error {
	var v queryFields
	if err := schema.DecodeStruct(schema.VariantQueryWS, data, &v); err != nil {
		return err
	}
	*q = Query(v)
	return nil
}

// ReplyError is the wire form of a reply's error arm. Payload and encoding
// always travel together.
type ReplyError struct {
	Payload  protocol.B64String `json:"payload"`
	Encoding string             `json:"encoding"`
}

// FromReplyError captures e.
func FromReplyError(e engine.ReplyError) ReplyError {
	return ReplyError{
		Payload:  protocol.WrapBytes(e.Payload),
		Encoding: e.Encoding,
	}
}

// Engine converts e back into an engine reply error.
func (e ReplyError) Engine() (engine.ReplyError, error) {
	payload, err := e.Payload.Unwrap()
	if err != nil {
		return engine.ReplyError{}, err
	}
	return engine.ReplyError{Payload: payload, Encoding: e.Encoding}, nil
}

type replyErrorFields ReplyError

func (e *ReplyError) UnmarshalJSON(data []byte) error {
	var v replyErrorFields
	if err := schema.DecodeStruct(schema.VariantReplyErrorWS, data, &v); err != nil {
		return err
	}
	*e = ReplyError(v)
	return nil
}
