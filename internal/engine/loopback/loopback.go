// Package loopback is an in-memory engine: every session shares one
// process-local key space, so a put on one session reaches subscribers and a
// get reaches queryables declared on any session.
package loopback

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
)

// DefaultEncoding is stamped on samples that carry no encoding.
const DefaultEncoding = "zenoh/bytes"

var queryableHandler = engine.Handler{Kind: engine.HandlerFifo, Capacity: 256}

// Config tunes the loopback engine.
type Config struct {
	// ID names the engine in sample timestamps. Empty picks a random one.
	ID           string
	QueryTimeout time.Duration
	Now          func() time.Time
}

// Engine is the shared key space.
type Engine struct {
	id           string
	queryTimeout time.Duration
	now          func() time.Time

	mu         sync.RWMutex
	closed     bool
	sessions   map[*session]struct{}
	subs       map[*subscriber]struct{}
	queryables map[*queryable]struct{}

	lastStamp atomic.Uint64
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg Config) *Engine {
	if cfg.ID == "" {
		id := protocol.NewID()
		cfg.ID = hex.EncodeToString(id[:8])
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		id:           cfg.ID,
		queryTimeout: cfg.QueryTimeout,
		now:          cfg.Now,
		sessions:     make(map[*session]struct{}),
		subs:         make(map[*subscriber]struct{}),
		queryables:   make(map[*queryable]struct{}),
	}
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Open(ctx context.Context) (engine.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.ErrClosed
	}
	s := &session{
		engine:     e,
		subs:       make(map[*subscriber]struct{}),
		pubs:       make(map[*publisher]struct{}),
		queryables: make(map[*queryable]struct{}),
	}
	e.sessions[s] = struct{}{}
	log.Debug().Str("engine", e.id).Int("sessions", len(e.sessions)).Msg("loopback session opened")
	return s, nil
}

// Close closes every session.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sessions := make([]*session, 0, len(e.sessions))
	for s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
	return nil
}

// timestamp renders an NTP64 time with the engine id, strictly increasing
// within the engine.
func (e *Engine) timestamp() string {
	t := e.now()
	ntp := uint64(t.Unix())<<32 | (uint64(t.Nanosecond())<<32)/uint64(time.Second)
	for {
		last := e.lastStamp.Load()
		if ntp <= last {
			ntp = last + 1
		}
		if e.lastStamp.CompareAndSwap(last, ntp) {
			break
		}
	}
	return fmt.Sprintf("%d/%s", ntp, e.id)
}

func (e *Engine) publish(ctx context.Context, s engine.Sample) {
	s.Timestamp = e.timestamp()
	e.mu.RLock()
	targets := make([]*subscriber, 0, len(e.subs))
	for sub := range e.subs {
		if sub.key.Intersects(s.KeyExpr) {
			targets = append(targets, sub)
		}
	}
	e.mu.RUnlock()
	for _, sub := range targets {
		sub.box.Deliver(ctx, s)
	}
}

func (e *Engine) matchingQueryables(key keyexpr.KeyExpr) []*queryable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*queryable, 0, len(e.queryables))
	for q := range e.queryables {
		if q.key.Intersects(key) {
			out = append(out, q)
		}
	}
	return out
}

func (e *Engine) register(fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engine.ErrClosed
	}
	fn()
	return nil
}

func (e *Engine) unregister(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func qosOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
