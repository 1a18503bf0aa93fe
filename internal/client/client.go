// Package client speaks the remote API to a gateway. A Client is an
// engine.Session whose operations travel over one websocket or TCP
// connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol/frame"
	"github.com/danmuck/zremote/internal/protocol/message"
	"github.com/danmuck/zremote/internal/protocol/session"
)

var (
	ErrNotOpen     = errors.New("client: session not open")
	ErrRejected    = errors.New("client: declaration rejected by gateway")
	ErrAckTimeout  = errors.New("client: timed out waiting for gateway")
	ErrConnClosed  = errors.New("client: connection closed")
	ErrAlreadyOpen = errors.New("client: session already open")
)

// Client is one remote API connection. Open must succeed before any other
// operation.
type Client struct {
	cfg       session.Config
	transport frame.Conn
	tracker   *session.Tracker

	// writeMu orders tracker updates with the bytes they describe.
	writeMu sync.Mutex

	mu         sync.Mutex
	sessionID  uuid.UUID
	opened     chan struct{}
	acks       map[uuid.UUID]chan error
	undeclares map[uuid.UUID]chan struct{}
	gets       map[uuid.UUID]*engine.Mailbox[engine.Reply]
	subs       map[uuid.UUID]*subscriber
	queryables map[uuid.UUID]*queryable

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

var _ engine.Session = (*Client)(nil)

// New runs a client over an established transport.
func New(transport frame.Conn, cfg session.Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg.WithDefaults(),
		transport:  transport,
		tracker:    session.NewTracker(),
		opened:     make(chan struct{}),
		acks:       make(map[uuid.UUID]chan error),
		undeclares: make(map[uuid.UUID]chan struct{}),
		gets:       make(map[uuid.UUID]*engine.Mailbox[engine.Reply]),
		subs:       make(map[uuid.UUID]*subscriber),
		queryables: make(map[uuid.UUID]*queryable),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Connect dials address and opens a session.
func Connect(ctx context.Context, address string, cfg session.Config) (*Client, error) {
	c, err := Dial(ctx, address, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := c.Open(ctx); err != nil {
		_ = c.transport.Close()
		<-c.done
		return nil, err
	}
	return c, nil
}

// Open performs the OpenSession exchange and returns the session id.
func (c *Client) Open(ctx context.Context) (uuid.UUID, error) {
	if state, _ := c.tracker.Session(); state != session.SessionUnopened {
		return uuid.Nil, ErrAlreadyOpen
	}
	if err := c.send(message.OpenSession{}); err != nil {
		return uuid.Nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	select {
	case <-c.opened:
	case <-c.done:
		return uuid.Nil, c.closedErr()
	case <-ctx.Done():
		return uuid.Nil, fmt.Errorf("%w: session ack: %w", ErrAckTimeout, ctx.Err())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	log.Debug().Str("session", c.sessionID.String()).Msg("client session opened")
	return c.sessionID, nil
}

// SessionID returns the id the gateway assigned, or uuid.Nil before Open.
func (c *Client) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is live or after a
// clean close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends CloseSession when a session is open and drops the connection.
func (c *Client) Close() error {
	if state, _ := c.tracker.Session(); state == session.SessionOpen {
		if err := c.send(message.CloseSession{}); err != nil {
			log.Debug().Err(err).Msg("client close session not sent")
		}
	}
	c.cancel()
	_ = c.transport.Close()
	<-c.done
	return nil
}

// send validates m against the client's view of the session and writes it.
func (c *Client) send(m message.Message) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.tracker.Apply(session.FromClient, m); err != nil {
		return err
	}
	data, err := message.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.transport.WriteMessage(data); err != nil {
		return fmt.Errorf("client: write %s: %w", message.Describe(m), err)
	}
	return nil
}

func (c *Client) closedErr() error {
	if c.err != nil {
		return fmt.Errorf("%w: %w", ErrConnClosed, c.err)
	}
	return ErrConnClosed
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.shutdown(err)
	}()
	for {
		var data []byte
		data, err = c.transport.ReadMessage()
		if err != nil {
			switch {
			case c.ctx.Err() != nil,
				errors.Is(err, io.EOF),
				errors.Is(err, frame.ErrClosed),
				errors.Is(err, net.ErrClosed):
				err = nil
			}
			return
		}
		m, decodeErr := message.Unmarshal(data)
		if decodeErr != nil {
			err = decodeErr
			log.Warn().Err(decodeErr).Int("bytes", len(data)).Msg("client malformed message")
			return
		}
		if applyErr := c.tracker.Apply(session.FromServer, m); applyErr != nil {
			log.Warn().Err(applyErr).Msg("client dropped message")
			continue
		}
		c.dispatch(m)
	}
}

func (c *Client) dispatch(m message.Message) {
	switch v := m.(type) {
	case message.SessionAck:
		c.mu.Lock()
		c.sessionID = v.ID
		c.mu.Unlock()
		close(c.opened)
	case message.SubscriberAck:
		c.resolveAck(v.ID, nil)
	case message.PublisherAck:
		c.resolveAck(v.ID, nil)
	case message.QueryableAck:
		c.resolveAck(v.ID, nil)
	case message.UndeclareSubscriber:
		c.serverUndeclared(v.ID)
	case message.UndeclarePublisher:
		c.serverUndeclared(v.ID)
	case message.UndeclareQueryable:
		c.serverUndeclared(v.ID)
	case message.Sample:
		c.deliverSample(v)
	case message.GetReply:
		c.deliverReply(v)
	case message.GetFinished:
		c.mu.Lock()
		box := c.gets[v.ID]
		delete(c.gets, v.ID)
		c.mu.Unlock()
		if box != nil {
			box.Close()
		}
	case message.QueryableQuery:
		c.deliverQuery(v)
	default:
		log.Warn().Str("message", message.Describe(m)).Msg("client ignored message")
	}
}

func (c *Client) resolveAck(id uuid.UUID, err error) bool {
	c.mu.Lock()
	ch, ok := c.acks[id]
	delete(c.acks, id)
	c.mu.Unlock()
	if ok {
		ch <- err
	}
	return ok
}

// serverUndeclared handles an undeclare from the gateway: a refusal of a
// pending declaration, the echo of the client's own undeclare, or the
// gateway dropping a live entity.
func (c *Client) serverUndeclared(id uuid.UUID) {
	if c.resolveAck(id, ErrRejected) {
		return
	}
	c.mu.Lock()
	waiter, echo := c.undeclares[id]
	delete(c.undeclares, id)
	sub := c.subs[id]
	delete(c.subs, id)
	q := c.queryables[id]
	delete(c.queryables, id)
	c.mu.Unlock()
	if sub != nil {
		sub.box.Close()
	}
	if q != nil {
		q.box.Close()
	}
	if echo {
		close(waiter)
	}
}

func (c *Client) deliverSample(v message.Sample) {
	c.mu.Lock()
	sub := c.subs[v.SubscriberID]
	c.mu.Unlock()
	if sub == nil {
		return
	}
	s, err := v.Sample.Engine()
	if err != nil {
		log.Warn().Err(err).Msg("client dropped sample")
		return
	}
	sub.box.Deliver(c.ctx, s)
}

func (c *Client) deliverReply(v message.GetReply) {
	c.mu.Lock()
	box := c.gets[v.Reply.QueryID]
	c.mu.Unlock()
	if box == nil {
		return
	}
	r, err := v.Reply.Engine()
	if err != nil {
		log.Warn().Err(err).Msg("client dropped reply")
		return
	}
	box.Deliver(c.ctx, r)
}

func (c *Client) deliverQuery(v message.QueryableQuery) {
	c.mu.Lock()
	q := c.queryables[v.QueryableID]
	c.mu.Unlock()
	if q == nil {
		return
	}
	query, err := newRemoteQuery(c, v.Query)
	if err != nil {
		log.Warn().Err(err).Msg("client dropped query")
		return
	}
	q.box.Deliver(c.ctx, query)
}

// shutdown fails every waiter and closes every delivery channel.
func (c *Client) shutdown(err error) {
	c.err = err
	c.cancel()
	c.tracker.Close()

	c.mu.Lock()
	acks := c.acks
	undeclares := c.undeclares
	gets := c.gets
	subs := c.subs
	queryables := c.queryables
	c.acks = make(map[uuid.UUID]chan error)
	c.undeclares = make(map[uuid.UUID]chan struct{})
	c.gets = make(map[uuid.UUID]*engine.Mailbox[engine.Reply])
	c.subs = make(map[uuid.UUID]*subscriber)
	c.queryables = make(map[uuid.UUID]*queryable)
	c.mu.Unlock()

	for _, ch := range acks {
		ch <- ErrConnClosed
	}
	for _, ch := range undeclares {
		close(ch)
	}
	for _, box := range gets {
		box.Close()
	}
	for _, sub := range subs {
		sub.box.Close()
	}
	for _, q := range queryables {
		q.box.Close()
	}
	close(c.done)
	if err != nil {
		log.Warn().Err(err).Msg("client connection ended")
	}
}
