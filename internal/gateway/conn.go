package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/observability"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/frame"
	"github.com/danmuck/zremote/internal/protocol/message"
	"github.com/danmuck/zremote/internal/protocol/session"
)

// stream is a declared entity whose events a forwarder goroutine relays.
// done closes once the forwarder has sent its last event.
type stream struct {
	undeclare func() error
	done      chan struct{}
}

type pendingQuery struct {
	queryable uuid.UUID
	query     engine.Query
}

// conn is the state of one served connection.
type conn struct {
	gw        *Gateway
	remote    string
	transport frame.Conn
	tracker   *session.Tracker
	out       chan message.Message

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	sess       engine.Session
	sessionID  uuid.UUID
	subs       map[uuid.UUID]*stream
	pubs       map[uuid.UUID]engine.Publisher
	queryables map[uuid.UUID]*stream
	queries    *session.PendingTable[uuid.UUID, pendingQuery]

	workers sync.WaitGroup
}

func newConn(g *Gateway, remote string, transport frame.Conn) *conn {
	return &conn{
		gw:         g,
		remote:     remote,
		transport:  transport,
		tracker:    session.NewTracker(),
		out:        make(chan message.Message, g.outboxSize),
		subs:       make(map[uuid.UUID]*stream),
		pubs:       make(map[uuid.UUID]engine.Publisher),
		queryables: make(map[uuid.UUID]*stream),
		queries:    session.NewPendingTable[uuid.UUID, pendingQuery](),
	}
}

func (c *conn) serve(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()
	stop := context.AfterFunc(c.ctx, func() { _ = c.transport.Close() })
	defer stop()

	handshake := time.AfterFunc(c.gw.cfg.HandshakeTimeout, func() {
		if state, _ := c.tracker.Session(); state == session.SessionUnopened {
			log.Warn().Str("remote", c.remote).Dur("timeout", c.gw.cfg.HandshakeTimeout).Msg("gateway handshake timed out")
			c.cancel()
		}
	})
	defer handshake.Stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()
	c.workers.Add(1)
	go c.sweepLoop()

	err := c.readLoop()

	c.teardown()
	c.cancel()
	<-writerDone
	c.workers.Wait()
	for _, p := range c.queries.Drain() {
		p.Value.query.Finish()
	}
	c.tracker.Close()
	_ = c.transport.Close()
	return err
}

func (c *conn) readLoop() error {
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, frame.ErrMessageTooLarge):
				observability.RecordDecodeError(kindTooLarge)
				log.Warn().Str("remote", c.remote).Int("max_bytes", c.gw.cfg.MaxMessageBytes).Msg("gateway message too large")
				return err
			case c.ctx.Err() != nil,
				errors.Is(err, io.EOF),
				errors.Is(err, frame.ErrClosed),
				errors.Is(err, net.ErrClosed):
				return nil
			}
			return err
		}

		m, err := message.Unmarshal(data)
		if err != nil {
			observability.RecordDecodeError(decodeErrorKind(err))
			log.Warn().Err(err).Str("remote", c.remote).Int("bytes", len(data)).Msg("gateway malformed message")
			return fmt.Errorf("gateway: %s: %w", c.remote, err)
		}
		observability.RecordMessage(observability.DirectionInbound, string(m.Plane()), m.Variant())

		if err := c.tracker.Apply(session.FromClient, m); err != nil {
			c.violation(session.FromClient, err)
			continue
		}
		closed, err := c.dispatch(m)
		if err != nil || closed {
			return err
		}
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.out:
			if err := c.tracker.Apply(session.FromServer, m); err != nil {
				c.violation(session.FromServer, err)
				continue
			}
			data, err := message.Marshal(m)
			if err != nil {
				log.Error().Err(err).Str("remote", c.remote).Str("message", message.Describe(m)).Msg("gateway encode failed")
				continue
			}
			if err := c.transport.WriteMessage(data); err != nil {
				log.Warn().Err(err).Str("remote", c.remote).Msg("gateway write failed")
				c.cancel()
				return
			}
			observability.RecordMessage(observability.DirectionOutbound, string(m.Plane()), m.Variant())
		}
	}
}

// send queues m for the writer. It reports false once the connection is closing.
func (c *conn) send(m message.Message) bool {
	select {
	case c.out <- m:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *conn) violation(dir session.Direction, err error) {
	entity := "unknown"
	var v *session.ViolationError
	if errors.As(err, &v) {
		entity = v.Entity
	}
	observability.RecordViolation(entity)
	log.Warn().Err(err).Str("remote", c.remote).Str("direction", dir.String()).Msg("gateway dropped message")
}

// dispatch performs one tracker-approved client message. closed is true once
// the client has closed its session.
func (c *conn) dispatch(m message.Message) (closed bool, err error) {
	switch v := m.(type) {
	case message.OpenSession:
		return false, c.openSession()
	case message.CloseSession:
		log.Info().Str("remote", c.remote).Str("session", c.sessionID.String()).Msg("gateway session close requested")
		return true, nil
	case message.Put:
		c.put(v)
	case message.Delete:
		c.delete(v)
	case message.Get:
		c.get(v)
	case message.DeclareSubscriber:
		c.declareSubscriber(v)
	case message.UndeclareSubscriber:
		c.undeclareSubscriber(v)
	case message.DeclarePublisher:
		c.declarePublisher(v)
	case message.UndeclarePublisher:
		c.undeclarePublisher(v)
	case message.PublisherPut:
		c.publisherPut(v)
	case message.DeclareQueryable:
		c.declareQueryable(v)
	case message.UndeclareQueryable:
		c.undeclareQueryable(v)
	case message.QueryableReply:
		c.queryableReply(v)
	default:
		log.Warn().Str("remote", c.remote).Str("message", message.Describe(m)).Msg("gateway ignored message")
	}
	return false, nil
}

func (c *conn) openSession() error {
	sess, err := c.gw.engine.Open(c.ctx)
	if err != nil {
		return fmt.Errorf("gateway: open engine session: %w", err)
	}
	id := protocol.NewID()
	c.mu.Lock()
	c.sess = sess
	c.sessionID = id
	c.mu.Unlock()
	observability.SessionOpened()
	log.Info().Str("remote", c.remote).Str("session", id.String()).Msg("gateway session opened")
	c.send(message.SessionAck{ID: id})
	return nil
}

// teardown closes the engine session and resolves every pending query.
func (c *conn) teardown() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.subs = make(map[uuid.UUID]*stream)
	c.pubs = make(map[uuid.UUID]engine.Publisher)
	c.queryables = make(map[uuid.UUID]*stream)
	c.mu.Unlock()

	for _, p := range c.queries.Drain() {
		p.Value.query.Finish()
	}
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		log.Warn().Err(err).Str("remote", c.remote).Msg("gateway engine session close failed")
	}
	observability.SessionClosed()
	log.Info().Str("remote", c.remote).Str("session", c.sessionID.String()).Msg("gateway session closed")
}

func (c *conn) put(v message.Put) {
	payload, err := unwrap(&v.Payload)
	if err != nil {
		c.engineError(v, err)
		return
	}
	attachment, err := unwrap(v.Attachment)
	if err != nil {
		c.engineError(v, err)
		return
	}
	err = c.sess.Put(c.ctx, v.KeyExpr, payload, engine.PutOptions{
		Encoding:          v.Encoding,
		CongestionControl: v.CongestionControl,
		Priority:          v.Priority,
		Express:           v.Express,
		Attachment:        attachment,
	})
	if err != nil {
		c.engineError(v, err)
	}
}

func (c *conn) delete(v message.Delete) {
	attachment, err := unwrap(v.Attachment)
	if err != nil {
		c.engineError(v, err)
		return
	}
	err = c.sess.Delete(c.ctx, v.KeyExpr, engine.DeleteOptions{
		CongestionControl: v.CongestionControl,
		Priority:          v.Priority,
		Express:           v.Express,
		Attachment:        attachment,
	})
	if err != nil {
		c.engineError(v, err)
	}
}

func (c *conn) get(v message.Get) {
	opts := engine.GetOptions{
		Handler:           v.Handler.Engine(),
		Consolidation:     v.Consolidation,
		CongestionControl: v.CongestionControl,
		Priority:          v.Priority,
		Express:           v.Express,
		Encoding:          v.Encoding,
		Timeout:           c.gw.cfg.QueryTimeout,
	}
	if v.Parameters != nil {
		opts.Parameters = *v.Parameters
	}
	var err error
	if opts.Payload, err = unwrap(v.Payload); err == nil {
		opts.Attachment, err = unwrap(v.Attachment)
	}
	var replies <-chan engine.Reply
	if err == nil {
		replies, err = c.sess.Get(c.ctx, v.KeyExpr, opts)
	}
	if err != nil {
		c.engineError(v, err)
		c.send(message.GetFinished{ID: v.ID})
		return
	}
	c.workers.Add(1)
	go c.forwardReplies(v.ID, replies)
}

func (c *conn) declareSubscriber(v message.DeclareSubscriber) {
	sub, err := c.sess.DeclareSubscriber(c.ctx, v.KeyExpr, v.Handler.Engine())
	if err != nil {
		c.engineError(v, err)
		c.send(message.UndeclareSubscriber{ID: v.ID})
		return
	}
	s := &stream{undeclare: sub.Undeclare, done: make(chan struct{})}
	c.mu.Lock()
	c.subs[v.ID] = s
	c.mu.Unlock()
	c.send(message.SubscriberAck{ID: v.ID})
	c.workers.Add(1)
	go c.forwardSamples(v.ID, sub, s.done)
}

func (c *conn) undeclareSubscriber(v message.UndeclareSubscriber) {
	c.mu.Lock()
	s, ok := c.subs[v.ID]
	delete(c.subs, v.ID)
	c.mu.Unlock()
	if ok {
		c.stop(v, s)
	}
	c.send(message.UndeclareSubscriber{ID: v.ID})
}

func (c *conn) declarePublisher(v message.DeclarePublisher) {
	pub, err := c.sess.DeclarePublisher(c.ctx, v.KeyExpr, engine.PublisherOptions{
		Encoding:          v.Encoding,
		CongestionControl: v.CongestionControl,
		Priority:          v.Priority,
		Reliability:       v.Reliability,
		Express:           v.Express,
	})
	if err != nil {
		c.engineError(v, err)
		c.send(message.UndeclarePublisher{ID: v.ID})
		return
	}
	c.mu.Lock()
	c.pubs[v.ID] = pub
	c.mu.Unlock()
	c.send(message.PublisherAck{ID: v.ID})
}

func (c *conn) undeclarePublisher(v message.UndeclarePublisher) {
	c.mu.Lock()
	pub, ok := c.pubs[v.ID]
	delete(c.pubs, v.ID)
	c.mu.Unlock()
	if ok {
		if err := pub.Undeclare(); err != nil {
			c.engineError(v, err)
		}
	}
	c.send(message.UndeclarePublisher{ID: v.ID})
}

func (c *conn) publisherPut(v message.PublisherPut) {
	c.mu.Lock()
	pub, ok := c.pubs[v.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	payload, err := unwrap(&v.Payload)
	if err != nil {
		c.engineError(v, err)
		return
	}
	attachment, err := unwrap(v.Attachment)
	if err != nil {
		c.engineError(v, err)
		return
	}
	if err := pub.Put(c.ctx, payload, engine.PublisherPutOptions{Encoding: v.Encoding, Attachment: attachment}); err != nil {
		c.engineError(v, err)
	}
}

func (c *conn) declareQueryable(v message.DeclareQueryable) {
	q, err := c.sess.DeclareQueryable(c.ctx, v.KeyExpr, v.Complete)
	if err != nil {
		c.engineError(v, err)
		c.send(message.UndeclareQueryable{ID: v.ID})
		return
	}
	s := &stream{undeclare: q.Undeclare, done: make(chan struct{})}
	c.mu.Lock()
	c.queryables[v.ID] = s
	c.mu.Unlock()
	c.send(message.QueryableAck{ID: v.ID})
	c.workers.Add(1)
	go c.forwardQueries(v.ID, q, s.done)
}

func (c *conn) undeclareQueryable(v message.UndeclareQueryable) {
	c.mu.Lock()
	s, ok := c.queryables[v.ID]
	delete(c.queryables, v.ID)
	c.mu.Unlock()
	if ok {
		c.stop(v, s)
	}
	for _, p := range c.queries.List() {
		if p.Value.queryable != v.ID {
			continue
		}
		if taken, ok := c.queries.Take(p.Key); ok {
			taken.Value.query.Finish()
		}
	}
	c.send(message.UndeclareQueryable{ID: v.ID})
}

func (c *conn) queryableReply(v message.QueryableReply) {
	p, ok := c.queries.Take(v.Reply.QueryID)
	if !ok {
		log.Debug().Str("remote", c.remote).Str("query", v.Reply.QueryID.String()).Msg("gateway reply for finished query")
		return
	}
	if err := v.Reply.Apply(c.ctx, p.Value.query); err != nil {
		c.engineError(v, err)
		p.Value.query.Finish()
	}
}

// stop undeclares s and waits for its forwarder to drain, so the undeclare
// echo is the last message sent for the entity.
func (c *conn) stop(m message.Message, s *stream) {
	if err := s.undeclare(); err != nil {
		c.engineError(m, err)
	}
	select {
	case <-s.done:
	case <-c.ctx.Done():
	}
}

func (c *conn) engineError(m message.Message, err error) {
	log.Warn().Err(err).Str("remote", c.remote).Str("message", message.Describe(m)).Msg("gateway engine call failed")
}

// unwrap decodes an optional binary field. A present field always yields a
// non-nil slice.
func unwrap(b *protocol.B64String) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	out, err := b.Unwrap()
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}
