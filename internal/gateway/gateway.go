// Package gateway bridges remote API connections to an engine. Each
// connection owns at most one engine session; every message it receives or
// sends is checked against a session.Tracker.
package gateway

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol/frame"
	"github.com/danmuck/zremote/internal/protocol/session"
)

// Gateway serves remote API connections against one engine.
type Gateway struct {
	engine engine.Engine
	cfg    session.Config

	// OutboxSize bounds the messages queued for one connection's writer.
	outboxSize    int
	sweepInterval time.Duration

	active atomic.Int64
	wg     sync.WaitGroup
}

// Option tunes a Gateway.
type Option func(*Gateway)

// WithOutboxSize sets the per-connection outbound queue length.
func WithOutboxSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.outboxSize = n
		}
	}
}

// WithSweepInterval sets how often unanswered queries are expired.
func WithSweepInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.sweepInterval = d
		}
	}
}

func New(eng engine.Engine, cfg session.Config, opts ...Option) *Gateway {
	cfg = cfg.WithDefaults()
	g := &Gateway{
		engine:        eng,
		cfg:           cfg,
		outboxSize:    256,
		sweepInterval: time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Config() session.Config {
	return g.cfg
}

// Limits returns the frame limits connections should be built with.
func (g *Gateway) Limits() frame.Limits {
	return frame.Limits{
		MaxMessageBytes: g.cfg.MaxMessageBytes,
		WriteTimeout:    g.cfg.WriteTimeout,
	}
}

// ActiveConns reports the connections currently being served.
func (g *Gateway) ActiveConns() int64 {
	return g.active.Load()
}

// ServeConn runs one connection until the peer leaves, sends CloseSession,
// sends malformed input, or ctx is cancelled. The transport is closed on return.
func (g *Gateway) ServeConn(ctx context.Context, remote string, transport frame.Conn) error {
	g.wg.Add(1)
	defer g.wg.Done()
	active := g.active.Add(1)
	log.Info().Str("remote", remote).Int64("active_conns", active).Msg("gateway connection opened")
	defer func() {
		remaining := g.active.Add(-1)
		log.Info().Str("remote", remote).Int64("active_conns", remaining).Msg("gateway connection closed")
	}()

	c := newConn(g, remote, transport)
	return c.serve(ctx)
}

// ServeTCP accepts newline-delimited connections on addr until ctx is
// cancelled. ready, when non-nil, receives the bound address.
func (g *Gateway) ServeTCP(ctx context.Context, addr string, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return g.ServeListener(ctx, ln, ready)
}

// ServeListener is ServeTCP on an existing listener, which it closes on return.
func (g *Gateway) ServeListener(ctx context.Context, ln net.Listener, ready chan<- net.Addr) error {
	defer ln.Close()
	log.Info().Str("addr", ln.Addr().String()).Msg("gateway tcp listening")
	if ready != nil {
		ready <- ln.Addr()
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			lc := frame.NewLineConn(conn, g.Limits())
			if err := g.ServeConn(ctx, conn.RemoteAddr().String(), lc); err != nil {
				log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("gateway tcp connection ended")
			}
		}()
	}
}

// Wait blocks until every connection served so far has returned.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
