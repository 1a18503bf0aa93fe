package message

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/schema"
)

const unionControl = "ControlMsg"

// Control wire tags.
const (
	TagOpenSession         = "OpenSession"
	TagCloseSession        = "CloseSession"
	TagSession             = "Session"
	TagGet                 = schema.VariantGet
	TagGetFinished         = schema.VariantGetFinished
	TagPut                 = schema.VariantPut
	TagDelete              = schema.VariantDelete
	TagDeclareSubscriber   = schema.VariantDeclareSubscriber
	TagSubscriber          = "Subscriber"
	TagUndeclareSubscriber = "UndeclareSubscriber"
	TagDeclarePublisher    = schema.VariantDeclarePublisher
	TagPublisher           = "Publisher"
	TagUndeclarePublisher  = "UndeclarePublisher"
	TagDeclareQueryable    = schema.VariantDeclareQueryable
	TagQueryable           = "Queryable"
	TagUndeclareQueryable  = "UndeclareQueryable"
)

// OpenSession asks the gateway to open a session. Client to server.
type OpenSession struct{}

// CloseSession tears the session down. Client to server.
type CloseSession struct{}

// SessionAck carries the id minted for a newly opened session. Server to client.
type SessionAck struct {
	ID uuid.UUID
}

// Get issues a query. Replies arrive as GetReply data messages followed by
// exactly one GetFinished with the same id.
type Get struct {
	KeyExpr           keyexpr.KeyExpr             `json:"key_expr"`
	Parameters        *string                     `json:"parameters"`
	Handler           HandlerChannel              `json:"handler"`
	ID                uuid.UUID                   `json:"id"`
	Consolidation     *protocol.ConsolidationMode `json:"consolidation"`
	CongestionControl *protocol.CongestionControl `json:"congestion_control"`
	Priority          *protocol.Priority          `json:"priority"`
	Express           *bool                       `json:"express"`
	Encoding          *string                     `json:"encoding"`
	Payload           *protocol.B64String         `json:"payload"`
	Attachment        *protocol.B64String         `json:"attachment"`
}

// GetFinished terminates the replies of a Get. Server to client.
type GetFinished struct {
	ID uuid.UUID `json:"id"`
}

// Put writes a value. One-shot, no reply.
type Put struct {
	KeyExpr           keyexpr.KeyExpr             `json:"key_expr"`
	Payload           protocol.B64String          `json:"payload"`
	Encoding          *string                     `json:"encoding"`
	CongestionControl *protocol.CongestionControl `json:"congestion_control"`
	Priority          *protocol.Priority          `json:"priority"`
	Express           *bool                       `json:"express"`
	Attachment        *protocol.B64String         `json:"attachment"`
}

// Delete removes a value. One-shot, no reply.
type Delete struct {
	KeyExpr           keyexpr.KeyExpr             `json:"key_expr"`
	CongestionControl *protocol.CongestionControl `json:"congestion_control"`
	Priority          *protocol.Priority          `json:"priority"`
	Express           *bool                       `json:"express"`
	Attachment        *protocol.B64String         `json:"attachment"`
}

type DeclareSubscriber struct {
	KeyExpr keyexpr.KeyExpr `json:"key_expr"`
	Handler HandlerChannel  `json:"handler"`
	ID      uuid.UUID       `json:"id"`
}

// SubscriberAck confirms a DeclareSubscriber. Server to client.
type SubscriberAck struct {
	ID uuid.UUID
}

// UndeclareSubscriber is sent by the client as a request and echoed by the
// server as the acknowledgement.
type UndeclareSubscriber struct {
	ID uuid.UUID
}

type DeclarePublisher struct {
	KeyExpr           keyexpr.KeyExpr             `json:"key_expr"`
	Encoding          *string                     `json:"encoding"`
	CongestionControl *protocol.CongestionControl `json:"congestion_control"`
	Priority          *protocol.Priority          `json:"priority"`
	Reliability       *protocol.Reliability       `json:"reliability"`
	Express           *bool                       `json:"express"`
	ID                uuid.UUID                   `json:"id"`
}

// PublisherAck confirms a DeclarePublisher. Server to client.
type PublisherAck struct {
	ID uuid.UUID
}

type UndeclarePublisher struct {
	ID uuid.UUID
}

type DeclareQueryable struct {
	KeyExpr  keyexpr.KeyExpr `json:"key_expr"`
	ID       uuid.UUID       `json:"id"`
	Complete bool            `json:"complete"`
}

// QueryableAck confirms a DeclareQueryable. Server to client.
type QueryableAck struct {
	ID uuid.UUID
}

type UndeclareQueryable struct {
	ID uuid.UUID
}

func (OpenSession) Variant() string         { return TagOpenSession }
func (CloseSession) Variant() string        { return TagCloseSession }
func (SessionAck) Variant() string          { return TagSession }
func (Get) Variant() string                 { return TagGet }
func (GetFinished) Variant() string         { return TagGetFinished }
func (Put) Variant() string                 { return TagPut }
func (Delete) Variant() string              { return TagDelete }
func (DeclareSubscriber) Variant() string   { return TagDeclareSubscriber }
func (SubscriberAck) Variant() string       { return TagSubscriber }
func (UndeclareSubscriber) Variant() string { return TagUndeclareSubscriber }
func (DeclarePublisher) Variant() string    { return TagDeclarePublisher }
func (PublisherAck) Variant() string        { return TagPublisher }
func (UndeclarePublisher) Variant() string  { return TagUndeclarePublisher }
func (DeclareQueryable) Variant() string    { return TagDeclareQueryable }
func (QueryableAck) Variant() string        { return TagQueryable }
func (UndeclareQueryable) Variant() string  { return TagUndeclareQueryable }

func (OpenSession) body() any           { return nil }
func (CloseSession) body() any          { return nil }
func (m SessionAck) body() any          { return m.ID }
func (m Get) body() any                 { return m }
func (m GetFinished) body() any         { return m }
func (m Put) body() any                 { return m }
func (m Delete) body() any              { return m }
func (m DeclareSubscriber) body() any   { return m }
func (m SubscriberAck) body() any       { return m.ID }
func (m UndeclareSubscriber) body() any { return m.ID }
func (m DeclarePublisher) body() any    { return m }
func (m PublisherAck) body() any        { return m.ID }
func (m UndeclarePublisher) body() any  { return m.ID }
func (m DeclareQueryable) body() any    { return m }
func (m QueryableAck) body() any        { return m.ID }
func (m UndeclareQueryable) body() any  { return m.ID }

func (OpenSession) Plane() Plane         { return PlaneControl }
func (CloseSession) Plane() Plane        { return PlaneControl }
func (SessionAck) Plane() Plane          { return PlaneControl }
func (Get) Plane() Plane                 { return PlaneControl }
func (GetFinished) Plane() Plane         { return PlaneControl }
func (Put) Plane() Plane                 { return PlaneControl }
func (Delete) Plane() Plane              { return PlaneControl }
func (DeclareSubscriber) Plane() Plane   { return PlaneControl }
func (SubscriberAck) Plane() Plane       { return PlaneControl }
func (UndeclareSubscriber) Plane() Plane { return PlaneControl }
func (DeclarePublisher) Plane() Plane    { return PlaneControl }
func (PublisherAck) Plane() Plane        { return PlaneControl }
func (UndeclarePublisher) Plane() Plane  { return PlaneControl }
func (DeclareQueryable) Plane() Plane    { return PlaneControl }
func (QueryableAck) Plane() Plane        { return PlaneControl }
func (UndeclareQueryable) Plane() Plane  { return PlaneControl }

func (OpenSession) controlMsg()         {}
func (CloseSession) controlMsg()        {}
func (SessionAck) controlMsg()          {}
func (Get) controlMsg()                 {}
func (GetFinished) controlMsg()         {}
func (Put) controlMsg()                 {}
func (Delete) controlMsg()              {}
func (DeclareSubscriber) controlMsg()   {}
func (SubscriberAck) controlMsg()       {}
func (UndeclareSubscriber) controlMsg() {}
func (DeclarePublisher) controlMsg()    {}
func (PublisherAck) controlMsg()        {}
func (UndeclarePublisher) controlMsg()  {}
func (DeclareQueryable) controlMsg()    {}
func (QueryableAck) controlMsg()        {}
func (UndeclareQueryable) controlMsg()  {}

type controlDecoder func(body json.RawMessage) (ControlMsg, error)

var controlDecoders = map[string]controlDecoder{
	TagOpenSession:         unitControl(OpenSession{}),
	TagCloseSession:        unitControl(CloseSession{}),
	TagSession:             idControl(TagSession, func(id uuid.UUID) ControlMsg { return SessionAck{ID: id} }),
	TagGet:                 structControl[Get](schema.VariantGet),
	TagGetFinished:         structControl[GetFinished](schema.VariantGetFinished),
	TagPut:                 structControl[Put](schema.VariantPut),
	TagDelete:              structControl[Delete](schema.VariantDelete),
	TagDeclareSubscriber:   structControl[DeclareSubscriber](schema.VariantDeclareSubscriber),
	TagSubscriber:          idControl(TagSubscriber, func(id uuid.UUID) ControlMsg { return SubscriberAck{ID: id} }),
	TagUndeclareSubscriber: idControl(TagUndeclareSubscriber, func(id uuid.UUID) ControlMsg { return UndeclareSubscriber{ID: id} }),
	TagDeclarePublisher:    structControl[DeclarePublisher](schema.VariantDeclarePublisher),
	TagPublisher:           idControl(TagPublisher, func(id uuid.UUID) ControlMsg { return PublisherAck{ID: id} }),
	TagUndeclarePublisher:  idControl(TagUndeclarePublisher, func(id uuid.UUID) ControlMsg { return UndeclarePublisher{ID: id} }),
	TagDeclareQueryable:    structControl[DeclareQueryable](schema.VariantDeclareQueryable),
	TagQueryable:           idControl(TagQueryable, func(id uuid.UUID) ControlMsg { return QueryableAck{ID: id} }),
	TagUndeclareQueryable:  idControl(TagUndeclareQueryable, func(id uuid.UUID) ControlMsg { return UndeclareQueryable{ID: id} }),
}

func unitControl(m ControlMsg) controlDecoder {
	return func(body json.RawMessage) (ControlMsg, error) {
		if err := decodeUnit(m.Variant(), body); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func idControl(variant string, build func(uuid.UUID) ControlMsg) controlDecoder {
	return func(body json.RawMessage) (ControlMsg, error) {
		id, err := decodeID(variant, body)
		if err != nil {
			return nil, err
		}
		return build(id), nil
	}
}

func structControl[T ControlMsg](variant string) controlDecoder {
	return func(body json.RawMessage) (ControlMsg, error) {
		var v T
		if err := schema.DecodeStruct(variant, body, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// DecodeControl decodes the body of a Control envelope.
func DecodeControl(data []byte) (ControlMsg, error) {
	tag, body, err := protocol.DecodeTagged(unionControl, data)
	if err != nil {
		return nil, err
	}
	decode, ok := controlDecoders[tag]
	if !ok {
		return nil, &protocol.UnknownTagError{Union: unionControl, Tag: tag}
	}
	return decode(body)
}
