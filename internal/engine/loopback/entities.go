package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
)

type subscriber struct {
	key   keyexpr.KeyExpr
	box   *engine.Mailbox[engine.Sample]
	owner *session
	once  sync.Once
}

func (s *subscriber) KeyExpr() keyexpr.KeyExpr      { return s.key }
func (s *subscriber) Samples() <-chan engine.Sample { return s.box.C() }

func (s *subscriber) Undeclare() error {
	if s.box.Closed() {
		return engine.ErrUndeclared
	}
	s.owner.forget(func() { delete(s.owner.subs, s) })
	s.undeclare()
	return nil
}

func (s *subscriber) undeclare() {
	s.once.Do(func() {
		s.owner.engine.unregister(func() { delete(s.owner.engine.subs, s) })
		s.box.Close()
	})
}

type publisher struct {
	key        keyexpr.KeyExpr
	opts       engine.PublisherOptions
	owner      *session
	undeclared atomic.Bool
}

func (p *publisher) KeyExpr() keyexpr.KeyExpr { return p.key }

func (p *publisher) Put(ctx context.Context, payload []byte, opts engine.PublisherPutOptions) error {
	if p.undeclared.Load() {
		return engine.ErrUndeclared
	}
	encoding := p.opts.Encoding
	if opts.Encoding != nil {
		encoding = opts.Encoding
	}
	p.owner.engine.publish(ctx, engine.Sample{
		KeyExpr:           p.key,
		Payload:           payload,
		Kind:              protocol.SampleKindPut,
		Encoding:          qosOr(encoding, DefaultEncoding),
		CongestionControl: qosOr(p.opts.CongestionControl, protocol.DefaultCongestionControl),
		Priority:          qosOr(p.opts.Priority, protocol.DefaultPriority),
		Express:           qosOr(p.opts.Express, false),
		Attachment:        opts.Attachment,
	})
	return nil
}

func (p *publisher) Delete(ctx context.Context) error {
	if p.undeclared.Load() {
		return engine.ErrUndeclared
	}
	p.owner.engine.publish(ctx, engine.Sample{
		KeyExpr:           p.key,
		Payload:           []byte{},
		Kind:              protocol.SampleKindDelete,
		Encoding:          DefaultEncoding,
		CongestionControl: qosOr(p.opts.CongestionControl, protocol.DefaultCongestionControl),
		Priority:          qosOr(p.opts.Priority, protocol.DefaultPriority),
		Express:           qosOr(p.opts.Express, false),
	})
	return nil
}

func (p *publisher) Undeclare() error {
	if p.undeclared.Swap(true) {
		return engine.ErrUndeclared
	}
	p.owner.forget(func() { delete(p.owner.pubs, p) })
	return nil
}

type queryable struct {
	key      keyexpr.KeyExpr
	complete bool
	box      *engine.Mailbox[engine.Query]
	owner    *session
	once     sync.Once
}

func (q *queryable) KeyExpr() keyexpr.KeyExpr     { return q.key }
func (q *queryable) Complete() bool               { return q.complete }
func (q *queryable) Queries() <-chan engine.Query { return q.box.C() }

func (q *queryable) Undeclare() error {
	if q.box.Closed() {
		return engine.ErrUndeclared
	}
	q.owner.forget(func() { delete(q.owner.queryables, q) })
	q.undeclare()
	return nil
}

func (q *queryable) undeclare() {
	q.once.Do(func() {
		q.owner.engine.unregister(func() { delete(q.owner.engine.queryables, q) })
		q.box.Close()
		// Queries still buffered will never be read.
		for pending := range q.box.C() {
			pending.Finish()
		}
	})
}
