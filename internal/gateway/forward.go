package gateway

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/message"
	"github.com/danmuck/zremote/internal/protocol/session"
	"github.com/danmuck/zremote/internal/protocol/wire"
)

func (c *conn) forwardSamples(id uuid.UUID, sub engine.Subscriber, done chan struct{}) {
	defer c.workers.Done()
	defer close(done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case s, ok := <-sub.Samples():
			if !ok {
				return
			}
			if !c.send(message.Sample{Sample: wire.FromSample(s), SubscriberID: id}) {
				return
			}
		}
	}
}

// forwardReplies relays the replies of one get, then its single GetFinished.
func (c *conn) forwardReplies(id uuid.UUID, replies <-chan engine.Reply) {
	defer c.workers.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case r, ok := <-replies:
			if !ok {
				c.send(message.GetFinished{ID: id})
				return
			}
			reply, err := wire.FromReply(r, id)
			if err != nil {
				log.Warn().Err(err).Str("remote", c.remote).Str("get", id.String()).Msg("gateway dropped reply")
				continue
			}
			if !c.send(message.GetReply{Reply: reply}) {
				return
			}
		}
	}
}

// forwardQueries mints an id for every incoming query, parks the query
// until the client answers or its deadline passes, and relays it.
func (c *conn) forwardQueries(id uuid.UUID, q engine.Queryable, done chan struct{}) {
	defer c.workers.Done()
	defer close(done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case query, ok := <-q.Queries():
			if !ok {
				return
			}
			queryID := protocol.NewID()
			now := time.Now()
			parked := c.queries.Insert(session.Pending[uuid.UUID, pendingQuery]{
				Key:      queryID,
				Value:    pendingQuery{queryable: id, query: query},
				QueuedAt: now,
				Deadline: now.Add(c.gw.cfg.QueryTimeout),
			})
			if !parked {
				query.Finish()
				continue
			}
			if !c.send(message.QueryableQuery{QueryableID: id, Query: wire.FromQuery(query, queryID)}) {
				if p, ok := c.queries.Take(queryID); ok {
					p.Value.query.Finish()
				}
				return
			}
		}
	}
}

// sweepLoop expires queries the client left unanswered. A reply arriving
// after expiry is a protocol violation.
func (c *conn) sweepLoop() {
	defer c.workers.Done()
	ticker := time.NewTicker(c.gw.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			for _, p := range c.queries.TakeExpired(now) {
				c.tracker.ExpireQuery(p.Key)
				p.Value.query.Finish()
				log.Debug().
					Str("remote", c.remote).
					Str("query", p.Key.String()).
					Str("queryable", p.Value.queryable.String()).
					Msg("gateway query expired")
			}
		}
	}
}
