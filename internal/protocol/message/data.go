package message

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/schema"
	"github.com/danmuck/zremote/internal/protocol/wire"
)

const (
	unionData      = "DataMsg"
	unionQueryable = "QueryableMsg"
)

// Data wire tags.
const (
	TagPublisherPut = schema.VariantPublisherPut
	TagSample       = "Sample"
	TagGetReply     = "GetReply"
	TagQueryableMsg = "Queryable"

	TagQueryableQuery = schema.VariantQuery
	TagQueryableReply = schema.VariantReply
)

// PublisherPut pushes a value through a declared publisher. Client to server.
type PublisherPut struct {
	ID         uuid.UUID           `json:"id"`
	Payload    protocol.B64String  `json:"payload"`
	Attachment *protocol.B64String `json:"attachment"`
	Encoding   *string             `json:"encoding"`
}

// Sample delivers one event to a subscriber. Server to client.
// On the wire it is the pair [sample, subscriber id].
type Sample struct {
	Sample       wire.Sample
	SubscriberID uuid.UUID
}

// GetReply delivers one reply to an outstanding Get. Server to client.
type GetReply struct {
	Reply wire.Reply
}

// QueryableQuery delivers a query to a declared queryable. Server to client.
type QueryableQuery struct {
	QueryableID uuid.UUID  `json:"queryable_uuid"`
	Query       wire.Query `json:"query"`
}

// QueryableReply answers a query previously delivered by QueryableQuery.
// Client to server.
type QueryableReply struct {
	Reply wire.QueryReply `json:"reply"`
}

func (PublisherPut) Variant() string   { return TagPublisherPut }
func (Sample) Variant() string         { return TagSample }
func (GetReply) Variant() string       { return TagGetReply }
func (QueryableQuery) Variant() string { return TagQueryableMsg }
func (QueryableReply) Variant() string { return TagQueryableMsg }

func (m PublisherPut) body() any   { return m }
func (m Sample) body() any         { return []any{m.Sample, m.SubscriberID} }
func (m GetReply) body() any       { return m.Reply }
func (m QueryableQuery) body() any { return tagged{tag: TagQueryableQuery, body: m} }
func (m QueryableReply) body() any { return tagged{tag: TagQueryableReply, body: m} }

func (PublisherPut) Plane() Plane   { return PlaneData }
func (Sample) Plane() Plane         { return PlaneData }
func (GetReply) Plane() Plane       { return PlaneData }
func (QueryableQuery) Plane() Plane { return PlaneData }
func (QueryableReply) Plane() Plane { return PlaneData }

func (PublisherPut) dataMsg()   {}
func (Sample) dataMsg()         {}
func (GetReply) dataMsg()       {}
func (QueryableQuery) dataMsg() {}
func (QueryableReply) dataMsg() {}

// DecodeData decodes the body of a Data envelope.
func DecodeData(data []byte) (DataMsg, error) {
	tag, body, err := protocol.DecodeTagged(unionData, data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagPublisherPut:
		var m PublisherPut
		if err := schema.DecodeStruct(schema.VariantPublisherPut, body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TagSample:
		return decodeSample(body)
	case TagGetReply:
		if protocol.IsNull(body) {
			return nil, &protocol.MissingFieldError{Variant: TagGetReply, Field: "reply"}
		}
		var m GetReply
		if err := m.Reply.UnmarshalJSON(body); err != nil {
			return nil, err
		}
		return m, nil
	case TagQueryableMsg:
		return decodeQueryable(body)
	default:
		return nil, &protocol.UnknownTagError{Union: unionData, Tag: tag}
	}
}

func decodeSample(body json.RawMessage) (DataMsg, error) {
	if protocol.IsNull(body) {
		return nil, &protocol.MissingFieldError{Variant: TagSample, Field: "sample"}
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, protocol.Malformed(TagSample, "expected [sample, subscriber id]: %v", err)
	}
	if len(pair) != 2 {
		return nil, protocol.Malformed(TagSample, "expected 2 elements, got %d", len(pair))
	}
	var m Sample
	if err := m.Sample.UnmarshalJSON(pair[0]); err != nil {
		return nil, err
	}
	id, err := decodeID(TagSample, pair[1])
	if err != nil {
		return nil, err
	}
	m.SubscriberID = id
	return m, nil
}

func decodeQueryable(body json.RawMessage) (DataMsg, error) {
	tag, inner, err := protocol.DecodeTagged(unionQueryable, body)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagQueryableQuery:
		var m QueryableQuery
		if err := schema.DecodeStruct(schema.VariantQuery, inner, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TagQueryableReply:
		var m QueryableReply
		if err := schema.DecodeStruct(schema.VariantReply, inner, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, &protocol.UnknownTagError{Union: unionQueryable, Tag: tag}
	}
}
