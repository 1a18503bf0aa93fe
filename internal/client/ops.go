package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/message"
)

// DefaultHandler buffers replies and samples when the caller names none.
var DefaultHandler = engine.Handler{Kind: engine.HandlerFifo, Capacity: 256}

func (c *Client) Put(ctx context.Context, key keyexpr.KeyExpr, payload []byte, opts engine.PutOptions) error {
	return c.send(message.Put{
		KeyExpr:           key,
		Payload:           protocol.WrapBytes(payload),
		Encoding:          opts.Encoding,
		CongestionControl: opts.CongestionControl,
		Priority:          opts.Priority,
		Express:           opts.Express,
		Attachment:        protocol.WrapOptional(opts.Attachment, opts.Attachment != nil),
	})
}

func (c *Client) Delete(ctx context.Context, key keyexpr.KeyExpr, opts engine.DeleteOptions) error {
	return c.send(message.Delete{
		KeyExpr:           key,
		CongestionControl: opts.CongestionControl,
		Priority:          opts.Priority,
		Express:           opts.Express,
		Attachment:        protocol.WrapOptional(opts.Attachment, opts.Attachment != nil),
	})
}

// Get sends a query. The gateway applies its own query timeout, so
// opts.Timeout is not transmitted; the returned channel closes on
// GetFinished.
func (c *Client) Get(ctx context.Context, key keyexpr.KeyExpr, opts engine.GetOptions) (<-chan engine.Reply, error) {
	handler := opts.Handler
	if handler == (engine.Handler{}) {
		handler = DefaultHandler
	}
	if err := handler.Validate(); err != nil {
		return nil, err
	}
	m := message.Get{
		KeyExpr:           key,
		Handler:           message.HandlerChannel{Kind: handler.Kind, Capacity: handler.Capacity},
		ID:                protocol.NewID(),
		Consolidation:     opts.Consolidation,
		CongestionControl: opts.CongestionControl,
		Priority:          opts.Priority,
		Express:           opts.Express,
		Encoding:          opts.Encoding,
		Payload:           protocol.WrapOptional(opts.Payload, opts.Payload != nil),
		Attachment:        protocol.WrapOptional(opts.Attachment, opts.Attachment != nil),
	}
	if opts.Parameters != "" {
		m.Parameters = protocol.Ptr(opts.Parameters)
	}
	box := engine.NewMailbox[engine.Reply](handler)
	c.mu.Lock()
	c.gets[m.ID] = box
	c.mu.Unlock()
	if err := c.send(m); err != nil {
		c.mu.Lock()
		delete(c.gets, m.ID)
		c.mu.Unlock()
		box.Close()
		return nil, err
	}
	return box.C(), nil
}

func (c *Client) DeclareSubscriber(ctx context.Context, key keyexpr.KeyExpr, handler engine.Handler) (engine.Subscriber, error) {
	if err := handler.Validate(); err != nil {
		return nil, err
	}
	sub := &subscriber{client: c, id: protocol.NewID(), key: key, box: engine.NewMailbox[engine.Sample](handler)}
	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()
	err := c.declare(ctx, sub.id, message.DeclareSubscriber{
		KeyExpr: key,
		Handler: message.HandlerChannel{Kind: handler.Kind, Capacity: handler.Capacity},
		ID:      sub.id,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		sub.box.Close()
		return nil, err
	}
	return sub, nil
}

func (c *Client) DeclarePublisher(ctx context.Context, key keyexpr.KeyExpr, opts engine.PublisherOptions) (engine.Publisher, error) {
	pub := &publisher{client: c, id: protocol.NewID(), key: key}
	err := c.declare(ctx, pub.id, message.DeclarePublisher{
		KeyExpr:           key,
		Encoding:          opts.Encoding,
		CongestionControl: opts.CongestionControl,
		Priority:          opts.Priority,
		Reliability:       opts.Reliability,
		Express:           opts.Express,
		ID:                pub.id,
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// DeclareQueryable declares a queryable whose queries arrive on a Fifo
// buffer of DefaultHandler's capacity.
func (c *Client) DeclareQueryable(ctx context.Context, key keyexpr.KeyExpr, complete bool) (engine.Queryable, error) {
	q := &queryable{client: c, id: protocol.NewID(), key: key, complete: complete, box: engine.NewMailbox[engine.Query](DefaultHandler)}
	c.mu.Lock()
	c.queryables[q.id] = q
	c.mu.Unlock()
	err := c.declare(ctx, q.id, message.DeclareQueryable{KeyExpr: key, ID: q.id, Complete: complete})
	if err != nil {
		c.mu.Lock()
		delete(c.queryables, q.id)
		c.mu.Unlock()
		q.box.Close()
		return nil, err
	}
	return q, nil
}

// declare sends m and waits for its ack, a refusal or AckTimeout.
func (c *Client) declare(ctx context.Context, id uuid.UUID, m message.Message) error {
	ch := make(chan error, 1)
	c.mu.Lock()
	c.acks[id] = ch
	c.mu.Unlock()
	if err := c.send(m); err != nil {
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AckTimeout)
	defer cancel()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s %s: %w", ErrAckTimeout, m.Variant(), id, ctx.Err())
	}
}

// undeclare sends m and waits for the gateway's echo.
func (c *Client) undeclare(id uuid.UUID, m message.Message) error {
	waiter := make(chan struct{})
	c.mu.Lock()
	c.undeclares[id] = waiter
	c.mu.Unlock()
	if err := c.send(m); err != nil {
		c.mu.Lock()
		delete(c.undeclares, id)
		c.mu.Unlock()
		return err
	}
	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-waiter:
		return nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.undeclares, id)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s %s", ErrAckTimeout, m.Variant(), id)
	}
}
