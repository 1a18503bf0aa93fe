package wire

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/schema"
)

const unionQueryReply = "QueryReplyVariant"

// QueryReply is a client's answer to a query delivered to its queryable.
type QueryReply struct {
	QueryID uuid.UUID
	Result  QueryReplyResult
}

// QueryReplyResult is ReplyOk, ReplyErr or ReplyDelete.
type QueryReplyResult interface {
	apply(ctx context.Context, q engine.Query) error
	tag() string
}

// ReplyOk answers with a value on a key expression.
type ReplyOk struct {
	KeyExpr keyexpr.KeyExpr    `json:"key_expr"`
	Payload protocol.B64String `json:"payload"`
}

// ReplyErr answers with an error payload.
type ReplyErr struct {
	Payload protocol.B64String `json:"payload"`
}

// ReplyDelete answers with a deletion of a key expression. It carries no payload.
type ReplyDelete struct {
	KeyExpr keyexpr.KeyExpr `json:"key_expr"`
}

func (ReplyOk) tag() string     { return "Reply" }
func (ReplyErr) tag() string    { return "ReplyErr" }
func (ReplyDelete) tag() string { return "ReplyDelete" }

func (r ReplyOk) apply(ctx context.Context, q engine.Query) error {
	payload, err := r.Payload.Unwrap()
	if err != nil {
		return err
	}
	return q.Reply(ctx, r.KeyExpr, payload)
}

func (r ReplyErr) apply(ctx context.Context, q engine.Query) error {
	payload, err := r.Payload.Unwrap()
	if err != nil {
		return err
	}
	return q.ReplyErr(ctx, payload)
}

func (r ReplyDelete) apply(ctx context.Context, q engine.Query) error {
	return q.ReplyDelete(ctx, r.KeyExpr)
}

// NewReplyOk builds a positive query reply.
func NewReplyOk(id uuid.UUID, key keyexpr.KeyExpr, payload []byte) QueryReply {
	return QueryReply{QueryID: id, Result: ReplyOk{KeyExpr: key, Payload: protocol.WrapBytes(payload)}}
}

// NewReplyErr builds an error query reply.
func NewReplyErr(id uuid.UUID, payload []byte) QueryReply {
	return QueryReply{QueryID: id, Result: ReplyErr{Payload: protocol.WrapBytes(payload)}}
}

// NewReplyDelete builds a delete query reply.
func NewReplyDelete(id uuid.UUID, key keyexpr.KeyExpr) QueryReply {
	return QueryReply{QueryID: id, Result: ReplyDelete{KeyExpr: key}}
}

// Apply performs the one engine reply action r names.
func (r QueryReply) Apply(ctx context.Context, q engine.Query) error {
	if r.Result == nil {
		return fmt.Errorf("%w: query reply %s has no result", protocol.ErrInvalidReply, r.QueryID)
	}
	return r.Result.apply(ctx, q)
}

func (r QueryReply) MarshalJSON() ([]byte, error) {
	if r.Result == nil {
		return nil, fmt.Errorf("%w: query reply %s has no result", protocol.ErrInvalidReply, r.QueryID)
	}
	result, err := protocol.EncodeTagged(r.Result.tag(), r.Result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(replyEnvelope{QueryID: r.QueryID, Result: result})
}

func (r *QueryReply) UnmarshalJSON(data []byte) error {
	var raw replyEnvelope
	if err := schema.DecodeStruct(schema.VariantQueryReplyWS, data, &raw); err != nil {
		return err
	}
	tag, body, err := protocol.DecodeTagged(unionQueryReply, raw.Result)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidReply, err)
	}
	var result QueryReplyResult
	switch tag {
	case "Reply":
		var v ReplyOk
		err = schema.DecodeStruct(schema.VariantReplyOk, body, &v)
		result = v
	case "ReplyErr":
		var v ReplyErr
		err = schema.DecodeStruct(schema.VariantReplyErr, body, &v)
		result = v
	case "ReplyDelete":
		var v ReplyDelete
		err = schema.DecodeStruct(schema.VariantReplyDelete, body, &v)
		result = v
	default:
		return &protocol.UnknownTagError{Union: unionQueryReply, Tag: tag}
	}
	if err != nil {
		return err
	}
	*r = QueryReply{QueryID: raw.QueryID, Result: result}
	return nil
}
