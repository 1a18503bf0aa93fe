package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/message"
)

// Direction says which peer sent a message.
type Direction int

const (
	FromClient Direction = iota + 1
	FromServer
)

func (d Direction) String() string {
	switch d {
	case FromClient:
		return "client"
	case FromServer:
		return "server"
	default:
		return "unknown"
	}
}

// Entity names used in violations and metrics.
const (
	EntitySession    = "session"
	EntitySubscriber = "subscriber"
	EntityPublisher  = "publisher"
	EntityQueryable  = "queryable"
	EntityGet        = "get"
	EntityQuery      = "query"
)

// SessionState is the lifecycle state of the session itself.
type SessionState int

const (
	SessionUnopened SessionState = iota
	SessionOpening
	SessionOpen
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionUnopened:
		return "unopened"
	case SessionOpening:
		return "opening"
	case SessionOpen:
		return "open"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// EntityState is the lifecycle state of a declared subscriber, publisher or
// queryable. An id the tracker does not know is Gone.
type EntityState int

const (
	StateGone EntityState = iota
	StateRequested
	StateActive
	StateUndeclaring
)

func (s EntityState) String() string {
	switch s {
	case StateGone:
		return "gone"
	case StateRequested:
		return "requested"
	case StateActive:
		return "active"
	case StateUndeclaring:
		return "undeclaring"
	default:
		return fmt.Sprintf("EntityState(%d)", int(s))
	}
}

// ViolationError reports a message that is well formed but illegal in the
// current state of the entity it names.
type ViolationError struct {
	Direction Direction
	Variant   string
	Entity    string
	ID        uuid.UUID
	Reason    string
}

func (e *ViolationError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("session: %s from %s violates %s lifecycle: %s", e.Variant, e.Direction, e.Entity, e.Reason)
	}
	return fmt.Sprintf("session: %s from %s violates %s %s lifecycle: %s", e.Variant, e.Direction, e.Entity, e.ID, e.Reason)
}

func (e *ViolationError) Unwrap() error {
	return protocol.ErrProtocolViolation
}

type pendingQuery struct {
	queryable uuid.UUID
}

// Tracker validates the message stream of one connection against the
// lifecycle of every entity it declares. Both peers can run one: the
// gateway applies what it receives and what it sends, and so does a client.
// Apply either accepts and records a message or rejects it without changing
// state. Tracker is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	session   SessionState
	sessionID uuid.UUID

	subscribers map[uuid.UUID]EntityState
	publishers  map[uuid.UUID]EntityState
	queryables  map[uuid.UUID]EntityState
	gets        map[uuid.UUID]struct{}
	queries     map[uuid.UUID]pendingQuery
}

func NewTracker() *Tracker {
	t := &Tracker{}
	t.reset()
	return t
}

func (t *Tracker) reset() {
	t.subscribers = make(map[uuid.UUID]EntityState)
	t.publishers = make(map[uuid.UUID]EntityState)
	t.queryables = make(map[uuid.UUID]EntityState)
	t.gets = make(map[uuid.UUID]struct{})
	t.queries = make(map[uuid.UUID]pendingQuery)
}

// Apply validates m as sent in direction dir and records its effect.
func (t *Tracker) Apply(dir Direction, m message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m == nil {
		return &ViolationError{Direction: dir, Variant: "<nil>", Entity: EntitySession, Reason: "nil message"}
	}
	if want := senderOf(m); want != 0 && want != dir {
		return t.violation(dir, m, EntitySession, uuid.Nil, fmt.Sprintf("only the %s may send it", want))
	}

	switch v := m.(type) {
	case message.OpenSession:
		if t.session != SessionUnopened {
			return t.violation(dir, m, EntitySession, t.sessionID, "session is "+t.session.String())
		}
		t.session = SessionOpening
		return nil
	case message.SessionAck:
		if t.session != SessionOpening {
			return t.violation(dir, m, EntitySession, v.ID, "session is "+t.session.String())
		}
		t.session = SessionOpen
		t.sessionID = v.ID
		return nil
	case message.CloseSession:
		switch t.session {
		case SessionOpening, SessionOpen, SessionClosed:
		default:
			return t.violation(dir, m, EntitySession, uuid.Nil, "session is "+t.session.String())
		}
		t.session = SessionClosed
		t.reset()
		return nil
	}

	if t.session != SessionOpen {
		return t.violation(dir, m, EntitySession, t.sessionID, "session is "+t.session.String())
	}

	switch v := m.(type) {
	case message.Put, message.Delete:
		return nil

	case message.Get:
		if _, ok := t.gets[v.ID]; ok {
			return t.violation(dir, m, EntityGet, v.ID, "request id already pending")
		}
		t.gets[v.ID] = struct{}{}
		return nil
	case message.GetReply:
		if _, ok := t.gets[v.Reply.QueryID]; !ok {
			return t.violation(dir, m, EntityGet, v.Reply.QueryID, "no pending get")
		}
		return nil
	case message.GetFinished:
		if _, ok := t.gets[v.ID]; !ok {
			return t.violation(dir, m, EntityGet, v.ID, "no pending get")
		}
		delete(t.gets, v.ID)
		return nil

	case message.DeclareSubscriber:
		return t.declare(dir, m, EntitySubscriber, t.subscribers, v.ID)
	case message.SubscriberAck:
		return t.ack(dir, m, EntitySubscriber, t.subscribers, v.ID)
	case message.UndeclareSubscriber:
		return t.undeclare(dir, m, EntitySubscriber, t.subscribers, v.ID)
	case message.Sample:
		return t.requireLive(dir, m, EntitySubscriber, t.subscribers, v.SubscriberID)

	case message.DeclarePublisher:
		return t.declare(dir, m, EntityPublisher, t.publishers, v.ID)
	case message.PublisherAck:
		return t.ack(dir, m, EntityPublisher, t.publishers, v.ID)
	case message.UndeclarePublisher:
		return t.undeclare(dir, m, EntityPublisher, t.publishers, v.ID)
	case message.PublisherPut:
		if state := t.publishers[v.ID]; state != StateActive {
			return t.violation(dir, m, EntityPublisher, v.ID, "publisher is "+state.String())
		}
		return nil

	case message.DeclareQueryable:
		return t.declare(dir, m, EntityQueryable, t.queryables, v.ID)
	case message.QueryableAck:
		return t.ack(dir, m, EntityQueryable, t.queryables, v.ID)
	case message.UndeclareQueryable:
		if err := t.undeclare(dir, m, EntityQueryable, t.queryables, v.ID); err != nil {
			return err
		}
		if t.queryables[v.ID] == StateGone {
			t.dropQueries(v.ID)
		}
		return nil
	case message.QueryableQuery:
		if err := t.requireLive(dir, m, EntityQueryable, t.queryables, v.QueryableID); err != nil {
			return err
		}
		if _, ok := t.queries[v.Query.QueryID]; ok {
			return t.violation(dir, m, EntityQuery, v.Query.QueryID, "query id already pending")
		}
		t.queries[v.Query.QueryID] = pendingQuery{queryable: v.QueryableID}
		return nil
	case message.QueryableReply:
		if v.Reply.Result == nil {
			return t.violation(dir, m, EntityQuery, v.Reply.QueryID, "reply carries no result")
		}
		if _, ok := t.queries[v.Reply.QueryID]; !ok {
			return t.violation(dir, m, EntityQuery, v.Reply.QueryID, "no pending query")
		}
		delete(t.queries, v.Reply.QueryID)
		return nil
	}
	return t.violation(dir, m, EntitySession, uuid.Nil, "unhandled message")
}

// ExpireQuery forgets a pending query that was never answered in time.
// A later reply to it is a violation.
func (t *Tracker) ExpireQuery(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.queries[id]
	delete(t.queries, id)
	return ok
}

// Close moves the session to Closed and forgets every entity, as when the
// transport drops without a CloseSession.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = SessionClosed
	t.reset()
}

func (t *Tracker) Session() (SessionState, uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session, t.sessionID
}

// State reports the lifecycle state of a declared entity.
func (t *Tracker) State(entity string, id uuid.UUID) EntityState {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch entity {
	case EntitySubscriber:
		return t.subscribers[id]
	case EntityPublisher:
		return t.publishers[id]
	case EntityQueryable:
		return t.queryables[id]
	default:
		return StateGone
	}
}

// GetPending reports whether a get with id awaits its GetFinished.
func (t *Tracker) GetPending(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.gets[id]
	return ok
}

// QueryPending reports whether a query with id awaits its reply.
func (t *Tracker) QueryPending(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.queries[id]
	return ok
}

func (t *Tracker) declare(dir Direction, m message.Message, entity string, table map[uuid.UUID]EntityState, id uuid.UUID) error {
	if state := table[id]; state != StateGone {
		return t.violation(dir, m, entity, id, "id already "+state.String())
	}
	table[id] = StateRequested
	return nil
}

func (t *Tracker) ack(dir Direction, m message.Message, entity string, table map[uuid.UUID]EntityState, id uuid.UUID) error {
	if state := table[id]; state != StateRequested {
		return t.violation(dir, m, entity, id, "ack for entity that is "+state.String())
	}
	table[id] = StateActive
	return nil
}

// undeclare handles both halves of the exchange: the client's request moves
// a live entity to Undeclaring, the server's echo removes it. The server may
// also undeclare on its own, which removes the entity directly.
func (t *Tracker) undeclare(dir Direction, m message.Message, entity string, table map[uuid.UUID]EntityState, id uuid.UUID) error {
	state := table[id]
	switch dir {
	case FromClient:
		if state != StateRequested && state != StateActive {
			return t.violation(dir, m, entity, id, "undeclare for entity that is "+state.String())
		}
		table[id] = StateUndeclaring
	case FromServer:
		if state == StateGone {
			return t.violation(dir, m, entity, id, "undeclare for unknown entity")
		}
		delete(table, id)
	}
	return nil
}

// requireLive admits events for an active entity, and for one whose
// undeclare is still in flight since the peer may have sent them first.
func (t *Tracker) requireLive(dir Direction, m message.Message, entity string, table map[uuid.UUID]EntityState, id uuid.UUID) error {
	state := table[id]
	if state != StateActive && state != StateUndeclaring {
		return t.violation(dir, m, entity, id, entity+" is "+state.String())
	}
	return nil
}

func (t *Tracker) dropQueries(queryable uuid.UUID) {
	for id, q := range t.queries {
		if q.queryable == queryable {
			delete(t.queries, id)
		}
	}
}

func (t *Tracker) violation(dir Direction, m message.Message, entity string, id uuid.UUID, reason string) error {
	return &ViolationError{Direction: dir, Variant: message.Describe(m), Entity: entity, ID: id, Reason: reason}
}

// senderOf returns the only peer allowed to send m, or 0 for undeclare
// messages, which travel both ways.
func senderOf(m message.Message) Direction {
	switch m.(type) {
	case message.SessionAck, message.GetFinished, message.SubscriberAck,
		message.PublisherAck, message.QueryableAck,
		message.Sample, message.GetReply, message.QueryableQuery:
		return FromServer
	case message.UndeclareSubscriber, message.UndeclarePublisher, message.UndeclareQueryable:
		return 0
	default:
		return FromClient
	}
}
