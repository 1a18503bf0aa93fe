package loopback

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
)

type session struct {
	engine *Engine

	mu         sync.Mutex
	closed     bool
	subs       map[*subscriber]struct{}
	pubs       map[*publisher]struct{}
	queryables map[*queryable]struct{}
}

func (s *session) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.ErrClosed
	}
	return nil
}

func (s *session) Put(ctx context.Context, key keyexpr.KeyExpr, payload []byte, opts engine.PutOptions) error {
	if err := s.alive(); err != nil {
		return err
	}
	s.engine.publish(ctx, engine.Sample{
		KeyExpr:           key,
		Payload:           payload,
		Kind:              protocol.SampleKindPut,
		Encoding:          qosOr(opts.Encoding, DefaultEncoding),
		CongestionControl: qosOr(opts.CongestionControl, protocol.DefaultCongestionControl),
		Priority:          qosOr(opts.Priority, protocol.DefaultPriority),
		Express:           qosOr(opts.Express, false),
		Attachment:        opts.Attachment,
	})
	return nil
}

func (s *session) Delete(ctx context.Context, key keyexpr.KeyExpr, opts engine.DeleteOptions) error {
	if err := s.alive(); err != nil {
		return err
	}
	s.engine.publish(ctx, engine.Sample{
		KeyExpr:           key,
		Payload:           []byte{},
		Kind:              protocol.SampleKindDelete,
		Encoding:          DefaultEncoding,
		CongestionControl: qosOr(opts.CongestionControl, protocol.DefaultCongestionControl),
		Priority:          qosOr(opts.Priority, protocol.DefaultPriority),
		Express:           qosOr(opts.Express, false),
		Attachment:        opts.Attachment,
	})
	return nil
}

func (s *session) Get(ctx context.Context, key keyexpr.KeyExpr, opts engine.GetOptions) (<-chan engine.Reply, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	handler := opts.Handler
	if handler.Kind == 0 {
		handler = engine.Handler{Kind: engine.HandlerFifo, Capacity: 256}
	}
	if err := handler.Validate(); err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.engine.queryTimeout
	}
	targets := s.engine.matchingQueryables(key)
	op := newGetOp(ctx, handler, qosOr(opts.Consolidation, protocol.DefaultConsolidation), len(targets))
	log.Debug().
		Str("key_expr", key.String()).
		Int("queryables", len(targets)).
		Str("consolidation", op.mode.String()).
		Msg("loopback get")
	if len(targets) == 0 {
		op.finalize()
		return op.box.C(), nil
	}
	queries := make([]*query, 0, len(targets))
	for range targets {
		q := &query{
			op:         op,
			key:        key,
			parameters: opts.Parameters,
			encoding:   opts.Encoding,
			payload:    opts.Payload,
			attachment: opts.Attachment,
			engine:     s.engine,
		}
		queries = append(queries, q)
	}
	op.armTimeout(timeout)
	go func() {
		for i, target := range targets {
			if !target.box.Deliver(ctx, engine.Query(queries[i])) {
				queries[i].Finish()
			}
		}
	}()
	return op.box.C(), nil
}

func (s *session) DeclareSubscriber(ctx context.Context, key keyexpr.KeyExpr, handler engine.Handler) (engine.Subscriber, error) {
	if err := handler.Validate(); err != nil {
		return nil, err
	}
	if err := s.alive(); err != nil {
		return nil, err
	}
	sub := &subscriber{key: key, box: engine.NewMailbox[engine.Sample](handler), owner: s}
	if err := s.engine.register(func() { s.engine.subs[sub] = struct{}{} }); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub, nil
}

func (s *session) DeclarePublisher(ctx context.Context, key keyexpr.KeyExpr, opts engine.PublisherOptions) (engine.Publisher, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	pub := &publisher{key: key, opts: opts, owner: s}
	s.mu.Lock()
	s.pubs[pub] = struct{}{}
	s.mu.Unlock()
	return pub, nil
}

func (s *session) DeclareQueryable(ctx context.Context, key keyexpr.KeyExpr, complete bool) (engine.Queryable, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	q := &queryable{key: key, complete: complete, box: engine.NewMailbox[engine.Query](queryableHandler), owner: s}
	if err := s.engine.register(func() { s.engine.queryables[q] = struct{}{} }); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.queryables[q] = struct{}{}
	s.mu.Unlock()
	return q, nil
}

// Close undeclares everything the session declared.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs, pubs, qs := s.subs, s.pubs, s.queryables
	s.subs, s.pubs, s.queryables = nil, nil, nil
	s.mu.Unlock()

	for sub := range subs {
		sub.undeclare()
	}
	for pub := range pubs {
		pub.undeclared.Store(true)
	}
	for q := range qs {
		q.undeclare()
	}
	s.engine.unregister(func() { delete(s.engine.sessions, s) })
	return nil
}

func (s *session) forget(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		fn()
	}
}
