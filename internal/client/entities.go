package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/message"
	"github.com/danmuck/zremote/internal/protocol/wire"
)

type subscriber struct {
	client *Client
	id     uuid.UUID
	key    keyexpr.KeyExpr
	box    *engine.Mailbox[engine.Sample]
	once   sync.Once
}

func (s *subscriber) ID() uuid.UUID                 { return s.id }
func (s *subscriber) KeyExpr() keyexpr.KeyExpr      { return s.key }
func (s *subscriber) Samples() <-chan engine.Sample { return s.box.C() }

func (s *subscriber) Undeclare() error {
	err := engine.ErrUndeclared
	s.once.Do(func() {
		// Closing first releases a read loop blocked on a full Fifo.
		s.box.Close()
		err = s.client.undeclare(s.id, message.UndeclareSubscriber{ID: s.id})
	})
	return err
}

type publisher struct {
	client     *Client
	id         uuid.UUID
	key        keyexpr.KeyExpr
	undeclared atomic.Bool
}

func (p *publisher) ID() uuid.UUID            { return p.id }
func (p *publisher) KeyExpr() keyexpr.KeyExpr { return p.key }

func (p *publisher) Put(ctx context.Context, payload []byte, opts engine.PublisherPutOptions) error {
	if p.undeclared.Load() {
		return engine.ErrUndeclared
	}
	return p.client.send(message.PublisherPut{
		ID:         p.id,
		Payload:    protocol.WrapBytes(payload),
		Attachment: protocol.WrapOptional(opts.Attachment, opts.Attachment != nil),
		Encoding:   opts.Encoding,
	})
}

// Delete issues a one-shot delete on the publisher's key; the remote API
// has no publisher-scoped delete.
func (p *publisher) Delete(ctx context.Context) error {
	if p.undeclared.Load() {
		return engine.ErrUndeclared
	}
	return p.client.Delete(ctx, p.key, engine.DeleteOptions{})
}

func (p *publisher) Undeclare() error {
	if p.undeclared.Swap(true) {
		return engine.ErrUndeclared
	}
	return p.client.undeclare(p.id, message.UndeclarePublisher{ID: p.id})
}

type queryable struct {
	client   *Client
	id       uuid.UUID
	key      keyexpr.KeyExpr
	complete bool
	box      *engine.Mailbox[engine.Query]
	once     sync.Once
}

func (q *queryable) ID() uuid.UUID                { return q.id }
func (q *queryable) KeyExpr() keyexpr.KeyExpr     { return q.key }
func (q *queryable) Complete() bool               { return q.complete }
func (q *queryable) Queries() <-chan engine.Query { return q.box.C() }

func (q *queryable) Undeclare() error {
	err := engine.ErrUndeclared
	q.once.Do(func() {
		q.box.Close()
		err = q.client.undeclare(q.id, message.UndeclareQueryable{ID: q.id})
	})
	return err
}

// remoteQuery is a query the gateway delivered to one of this client's
// queryables. Its answer travels back as a QueryableReply.
type remoteQuery struct {
	client     *Client
	id         uuid.UUID
	key        keyexpr.KeyExpr
	parameters string
	encoding   *string
	payload    []byte
	hasPayload bool
	attachment []byte
	hasAttach  bool
	answered   atomic.Bool
}

func newRemoteQuery(c *Client, w wire.Query) (*remoteQuery, error) {
	q := &remoteQuery{
		client:     c,
		id:         w.QueryID,
		key:        w.KeyExpr,
		parameters: w.Parameters,
		encoding:   w.Encoding,
	}
	var err error
	if w.Payload != nil {
		if q.payload, err = w.Payload.Unwrap(); err != nil {
			return nil, err
		}
		q.hasPayload = true
	}
	if w.Attachment != nil {
		if q.attachment, err = w.Attachment.Unwrap(); err != nil {
			return nil, err
		}
		q.hasAttach = true
	}
	return q, nil
}

func (q *remoteQuery) ID() uuid.UUID              { return q.id }
func (q *remoteQuery) KeyExpr() keyexpr.KeyExpr   { return q.key }
func (q *remoteQuery) Parameters() string         { return q.parameters }
func (q *remoteQuery) Payload() ([]byte, bool)    { return q.payload, q.hasPayload }
func (q *remoteQuery) Attachment() ([]byte, bool) { return q.attachment, q.hasAttach }

func (q *remoteQuery) Encoding() (string, bool) {
	if q.encoding == nil {
		return "", false
	}
	return *q.encoding, true
}

func (q *remoteQuery) Reply(ctx context.Context, key keyexpr.KeyExpr, payload []byte) error {
	if !key.Intersects(q.key) {
		return engine.ErrReplyOutOfScope
	}
	return q.answer(ctx, wire.NewReplyOk(q.id, key, payload))
}

func (q *remoteQuery) ReplyErr(ctx context.Context, payload []byte) error {
	return q.answer(ctx, wire.NewReplyErr(q.id, payload))
}

func (q *remoteQuery) ReplyDelete(ctx context.Context, key keyexpr.KeyExpr) error {
	if !key.Intersects(q.key) {
		return engine.ErrReplyOutOfScope
	}
	return q.answer(ctx, wire.NewReplyDelete(q.id, key))
}

// Finish abandons the query locally; the gateway times it out.
func (q *remoteQuery) Finish() {
	if q.answered.CompareAndSwap(false, true) {
		q.client.tracker.ExpireQuery(q.id)
	}
}

func (q *remoteQuery) answer(ctx context.Context, r wire.QueryReply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !q.answered.CompareAndSwap(false, true) {
		return engine.ErrAlreadyReplied
	}
	return q.client.send(message.QueryableReply{Reply: r})
}
