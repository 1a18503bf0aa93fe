// Package engine declares the pub/sub engine contract the gateway drives.
//
// The gateway never reaches into an engine implementation: it opens a
// Session, declares entities on it and moves Samples, Queries and Replies
// between those entities and the wire. Any engine that satisfies these
// interfaces can sit behind the gateway; loopback is the in-memory one.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
)

var (
	ErrClosed          = errors.New("engine: closed")
	ErrUndeclared      = errors.New("engine: entity undeclared")
	ErrAlreadyReplied  = errors.New("engine: query already answered")
	ErrQueryExpired    = errors.New("engine: query expired")
	ErrInvalidHandler  = errors.New("engine: invalid handler")
	ErrReplyOutOfScope = errors.New("engine: reply key expression does not intersect query")
)

// Sample is one put or delete event as matched by the engine.
// A nil Attachment means none was sent; an empty Timestamp means none was stamped.
type Sample struct {
	KeyExpr           keyexpr.KeyExpr
	Payload           []byte
	Kind              protocol.SampleKind
	Encoding          string
	Timestamp         string
	CongestionControl protocol.CongestionControl
	Priority          protocol.Priority
	Express           bool
	Attachment        []byte
}

// ReplyError is the error arm of a query reply.
type ReplyError struct {
	Payload  []byte
	Encoding string
}

// Reply is one answer to a Get. Exactly one of Sample and Err is set.
type Reply struct {
	Sample *Sample
	Err    *ReplyError
}

// Query is an incoming query delivered to a queryable. It is resolved by
// exactly one Reply, ReplyErr or ReplyDelete; later calls fail with
// ErrAlreadyReplied. Finish resolves it without an answer.
type Query interface {
	KeyExpr() keyexpr.KeyExpr
	Parameters() string
	Encoding() (string, bool)
	Payload() ([]byte, bool)
	Attachment() ([]byte, bool)

	Reply(ctx context.Context, key keyexpr.KeyExpr, payload []byte) error
	ReplyErr(ctx context.Context, payload []byte) error
	ReplyDelete(ctx context.Context, key keyexpr.KeyExpr) error
	Finish()
}

// HandlerKind selects how a declaration buffers events for a slow consumer.
type HandlerKind int

const (
	// HandlerFifo blocks the producer when the buffer is full.
	HandlerFifo HandlerKind = iota + 1
	// HandlerRing drops the oldest buffered event when the buffer is full.
	HandlerRing
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerFifo:
		return "Fifo"
	case HandlerRing:
		return "Ring"
	default:
		return "HandlerKind(?)"
	}
}

// Handler describes the delivery buffer of a subscriber or get.
type Handler struct {
	Kind     HandlerKind
	Capacity int
}

func (h Handler) Validate() error {
	if h.Kind != HandlerFifo && h.Kind != HandlerRing {
		return ErrInvalidHandler
	}
	if h.Capacity < 1 {
		return ErrInvalidHandler
	}
	return nil
}

// PutOptions carries the optional parameters of a put. Nil fields take engine defaults.
type PutOptions struct {
	Encoding          *string
	CongestionControl *protocol.CongestionControl
	Priority          *protocol.Priority
	Express           *bool
	Attachment        []byte
}

// DeleteOptions carries the optional parameters of a delete.
type DeleteOptions struct {
	CongestionControl *protocol.CongestionControl
	Priority          *protocol.Priority
	Express           *bool
	Attachment        []byte
}

// GetOptions carries the optional parameters of a get.
type GetOptions struct {
	Parameters        string
	Handler           Handler
	Consolidation     *protocol.ConsolidationMode
	CongestionControl *protocol.CongestionControl
	Priority          *protocol.Priority
	Express           *bool
	Encoding          *string
	Payload           []byte
	Attachment        []byte
	Timeout           time.Duration
}

// PublisherOptions fixes the QoS of every put made through a publisher.
type PublisherOptions struct {
	Encoding          *string
	CongestionControl *protocol.CongestionControl
	Priority          *protocol.Priority
	Reliability       *protocol.Reliability
	Express           *bool
}

// PublisherPutOptions carries per-put overrides for a declared publisher.
type PublisherPutOptions struct {
	Encoding   *string
	Attachment []byte
}

// Subscriber receives samples whose key expression intersects its own.
// Samples is closed after Undeclare.
type Subscriber interface {
	KeyExpr() keyexpr.KeyExpr
	Samples() <-chan Sample
	Undeclare() error
}

// Publisher puts and deletes on a fixed key expression.
type Publisher interface {
	KeyExpr() keyexpr.KeyExpr
	Put(ctx context.Context, payload []byte, opts PublisherPutOptions) error
	Delete(ctx context.Context) error
	Undeclare() error
}

// Queryable receives queries whose key expression intersects its own.
// Queries is closed after Undeclare.
type Queryable interface {
	KeyExpr() keyexpr.KeyExpr
	Complete() bool
	Queries() <-chan Query
	Undeclare() error
}

// Session is one client's view of the engine. Closing it undeclares every
// entity declared through it.
type Session interface {
	Put(ctx context.Context, key keyexpr.KeyExpr, payload []byte, opts PutOptions) error
	Delete(ctx context.Context, key keyexpr.KeyExpr, opts DeleteOptions) error
	// Get returns a channel of replies that is closed once every matching
	// queryable has finished or the timeout elapsed.
	Get(ctx context.Context, key keyexpr.KeyExpr, opts GetOptions) (<-chan Reply, error)
	DeclareSubscriber(ctx context.Context, key keyexpr.KeyExpr, handler Handler) (Subscriber, error)
	DeclarePublisher(ctx context.Context, key keyexpr.KeyExpr, opts PublisherOptions) (Publisher, error)
	DeclareQueryable(ctx context.Context, key keyexpr.KeyExpr, complete bool) (Queryable, error)
	Close() error
}

// Engine opens sessions.
type Engine interface {
	Open(ctx context.Context) (Session, error)
	Close() error
}
