package client

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/engine/loopback"
	"github.com/danmuck/zremote/internal/gateway"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/frame"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/session"
	"github.com/danmuck/zremote/internal/server"
	"github.com/danmuck/zremote/internal/testutil/testlog"
	"github.com/danmuck/zremote/internal/testutil/tlstest"
)

func newGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	eng := loopback.New(loopback.Config{ID: "client-test"})
	t.Cleanup(func() { _ = eng.Close() })
	return gateway.New(eng, session.Config{QueryTimeout: 500 * time.Millisecond})
}

// pipeClient opens a session against gw over an in-memory pipe.
func pipeClient(t *testing.T, gw *gateway.Gateway) *Client {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	served := make(chan error, 1)
	go func() {
		served <- gw.ServeConn(context.Background(), "pipe", frame.NewLineConn(serverSide, gw.Limits()))
	}()
	c := New(frame.NewLineConn(clientSide, frame.DefaultLimits()), session.Config{AckTimeout: 2 * time.Second})
	if _, err := c.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		select {
		case <-served:
		case <-time.After(2 * time.Second):
			t.Errorf("gateway connection did not stop")
		}
	})
	return c
}

func recvSample(t *testing.T, ch <-chan engine.Sample) engine.Sample {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatalf("sample channel closed")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sample")
	}
	return engine.Sample{}
}

func collect(t *testing.T, ch <-chan engine.Reply) []engine.Reply {
	t.Helper()
	var out []engine.Reply
	deadline := time.After(3 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-deadline:
			t.Fatalf("reply channel not closed")
		}
	}
}

func TestOpenAssignsSessionID(t *testing.T) {
	testlog.Start(t)
	c := pipeClient(t, newGateway(t))
	if c.SessionID() == uuid.Nil {
		t.Fatalf("expected session id")
	}
	if _, err := c.Open(context.Background()); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestSubscriberReceivesPutsFromOtherClient(t *testing.T) {
	testlog.Start(t)
	gw := newGateway(t)
	a, b := pipeClient(t, gw), pipeClient(t, gw)
	ctx := context.Background()

	sub, err := b.DeclareSubscriber(ctx, keyexpr.MustNew("demo/**"), engine.Handler{Kind: engine.HandlerFifo, Capacity: 8})
	if err != nil {
		t.Fatalf("declare subscriber: %v", err)
	}
	if err := a.Put(ctx, keyexpr.MustNew("demo/x"), []byte("hello"), engine.PutOptions{Attachment: []byte{1}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	s := recvSample(t, sub.Samples())
	if s.KeyExpr.String() != "demo/x" || string(s.Payload) != "hello" || len(s.Attachment) != 1 {
		t.Fatalf("unexpected sample %+v", s)
	}
	if err := a.Delete(ctx, keyexpr.MustNew("demo/x"), engine.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s := recvSample(t, sub.Samples()); s.Kind != protocol.SampleKindDelete {
		t.Fatalf("expected delete sample, got %v", s.Kind)
	}

	if err := sub.Undeclare(); err != nil {
		t.Fatalf("undeclare: %v", err)
	}
	if _, ok := <-sub.Samples(); ok {
		t.Fatalf("expected closed sample channel")
	}
	if err := sub.Undeclare(); !errors.Is(err, engine.ErrUndeclared) {
		t.Fatalf("expected ErrUndeclared, got %v", err)
	}
}

func TestPublisherPutAndUndeclare(t *testing.T) {
	testlog.Start(t)
	c := pipeClient(t, newGateway(t))
	ctx := context.Background()
	sub, err := c.DeclareSubscriber(ctx, keyexpr.MustNew("pub/a"), engine.Handler{Kind: engine.HandlerRing, Capacity: 4})
	if err != nil {
		t.Fatalf("declare subscriber: %v", err)
	}
	enc := "text/plain"
	pub, err := c.DeclarePublisher(ctx, keyexpr.MustNew("pub/a"), engine.PublisherOptions{Encoding: &enc})
	if err != nil {
		t.Fatalf("declare publisher: %v", err)
	}
	if err := pub.Put(ctx, []byte("v1"), engine.PublisherPutOptions{}); err != nil {
		t.Fatalf("publisher put: %v", err)
	}
	s := recvSample(t, sub.Samples())
	if string(s.Payload) != "v1" || s.Encoding != enc {
		t.Fatalf("unexpected sample %+v", s)
	}
	if err := pub.Undeclare(); err != nil {
		t.Fatalf("undeclare publisher: %v", err)
	}
	if err := pub.Put(ctx, []byte("v2"), engine.PublisherPutOptions{}); !errors.Is(err, engine.ErrUndeclared) {
		t.Fatalf("expected ErrUndeclared, got %v", err)
	}
}

func TestGetAnsweredByRemoteQueryable(t *testing.T) {
	testlog.Start(t)
	gw := newGateway(t)
	a, b := pipeClient(t, gw), pipeClient(t, gw)
	ctx := context.Background()

	qa, err := a.DeclareQueryable(ctx, keyexpr.MustNew("store/**"), true)
	if err != nil {
		t.Fatalf("declare queryable: %v", err)
	}
	go func() {
		for q := range qa.Queries() {
			if q.Parameters() != "limit=1" {
				_ = q.ReplyErr(ctx, []byte("bad parameters"))
				continue
			}
			if err := q.Reply(ctx, keyexpr.MustNew("other/key"), nil); !errors.Is(err, engine.ErrReplyOutOfScope) {
				t.Errorf("expected ErrReplyOutOfScope, got %v", err)
			}
			if err := q.Reply(ctx, keyexpr.MustNew("store/a"), []byte("42")); err != nil {
				t.Errorf("reply: %v", err)
			}
			if err := q.ReplyErr(ctx, nil); !errors.Is(err, engine.ErrAlreadyReplied) {
				t.Errorf("expected ErrAlreadyReplied, got %v", err)
			}
		}
	}()

	replies, err := b.Get(ctx, keyexpr.MustNew("store/a"), engine.GetOptions{Parameters: "limit=1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got := collect(t, replies)
	if len(got) != 1 || got[0].Sample == nil || string(got[0].Sample.Payload) != "42" {
		t.Fatalf("unexpected replies %+v", got)
	}

	replies, err = b.Get(ctx, keyexpr.MustNew("store/a"), engine.GetOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got = collect(t, replies)
	if len(got) != 1 || got[0].Err == nil || string(got[0].Err.Payload) != "bad parameters" {
		t.Fatalf("unexpected replies %+v", got)
	}

	if err := qa.Undeclare(); err != nil {
		t.Fatalf("undeclare queryable: %v", err)
	}
}

func TestGetWithoutQueryablesCloses(t *testing.T) {
	testlog.Start(t)
	c := pipeClient(t, newGateway(t))
	replies, err := c.Get(context.Background(), keyexpr.MustNew("nobody/home"), engine.GetOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := collect(t, replies); len(got) != 0 {
		t.Fatalf("expected no replies, got %d", len(got))
	}
}

func TestFinishedQueryTimesOutAtGateway(t *testing.T) {
	testlog.Start(t)
	gw := newGateway(t)
	a, b := pipeClient(t, gw), pipeClient(t, gw)
	ctx := context.Background()
	qa, err := a.DeclareQueryable(ctx, keyexpr.MustNew("slow"), false)
	if err != nil {
		t.Fatalf("declare queryable: %v", err)
	}
	go func() {
		for q := range qa.Queries() {
			q.Finish()
			if err := q.Reply(ctx, keyexpr.MustNew("slow"), nil); !errors.Is(err, engine.ErrAlreadyReplied) {
				t.Errorf("expected ErrAlreadyReplied after Finish, got %v", err)
			}
		}
	}()
	replies, err := b.Get(ctx, keyexpr.MustNew("slow"), engine.GetOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := collect(t, replies); len(got) != 0 {
		t.Fatalf("expected no replies, got %d", len(got))
	}
}

func TestInvalidHandlerRejectedLocally(t *testing.T) {
	testlog.Start(t)
	c := pipeClient(t, newGateway(t))
	ctx := context.Background()
	if _, err := c.DeclareSubscriber(ctx, keyexpr.MustNew("a"), engine.Handler{Kind: engine.HandlerFifo}); !errors.Is(err, engine.ErrInvalidHandler) {
		t.Fatalf("expected ErrInvalidHandler, got %v", err)
	}
	if _, err := c.Get(ctx, keyexpr.MustNew("a"), engine.GetOptions{Handler: engine.Handler{Kind: engine.HandlerRing}}); !errors.Is(err, engine.ErrInvalidHandler) {
		t.Fatalf("expected ErrInvalidHandler, got %v", err)
	}
}

func TestOperationsBeforeOpenFail(t *testing.T) {
	testlog.Start(t)
	gw := newGateway(t)
	serverSide, clientSide := net.Pipe()
	go func() { _ = gw.ServeConn(context.Background(), "pipe", frame.NewLineConn(serverSide, gw.Limits())) }()
	c := New(frame.NewLineConn(clientSide, frame.DefaultLimits()), session.Config{})
	defer c.Close()
	err := c.Put(context.Background(), keyexpr.MustNew("a"), nil, engine.PutOptions{})
	var violation *session.ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected violation, got %v", err)
	}
}

func TestCloseEndsSession(t *testing.T) {
	testlog.Start(t)
	gw := newGateway(t)
	serverSide, clientSide := net.Pipe()
	served := make(chan error, 1)
	go func() {
		served <- gw.ServeConn(context.Background(), "pipe", frame.NewLineConn(serverSide, gw.Limits()))
	}()
	c := New(frame.NewLineConn(clientSide, frame.DefaultLimits()), session.Config{})
	if _, err := c.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	sub, err := c.DeclareSubscriber(context.Background(), keyexpr.MustNew("a"), engine.Handler{Kind: engine.HandlerFifo, Capacity: 1})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway connection did not stop")
	}
	if _, ok := <-sub.Samples(); ok {
		t.Fatalf("expected closed sample channel")
	}
	if err := c.Put(context.Background(), keyexpr.MustNew("a"), nil, engine.PutOptions{}); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

func TestConnectOverTCP(t *testing.T) {
	testlog.Start(t)
	gw := newGateway(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan net.Addr, 1)
	go func() { _ = gw.ServeListener(ctx, ln, ready) }()
	addr := <-ready

	c, err := Connect(ctx, addr.String(), session.Config{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	sub, err := c.DeclareSubscriber(ctx, keyexpr.MustNew("tcp/*"), engine.Handler{Kind: engine.HandlerFifo, Capacity: 1})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if err := c.Put(ctx, keyexpr.MustNew("tcp/a"), []byte("x"), engine.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if s := recvSample(t, sub.Samples()); string(s.Payload) != "x" {
		t.Fatalf("unexpected payload %q", s.Payload)
	}
}

func TestConnectOverMutualTLS(t *testing.T) {
	testlog.Start(t)
	bundle := tlstest.NewBundle(t)
	serverCfg := session.Config{TLS: session.TLSConfig{
		Enabled: true, Mutual: true,
		CertFile: bundle.ServerCert, KeyFile: bundle.ServerKey, CAFile: bundle.CAFile,
	}}
	serverTLS, err := serverCfg.ServerTLS()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	eng := loopback.New(loopback.Config{})
	defer eng.Close()
	gw := gateway.New(eng, serverCfg)
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan net.Addr, 1)
	go func() { _ = gw.ServeListener(ctx, tls.NewListener(raw, serverTLS), ready) }()
	addr := <-ready

	clientCfg := session.Config{TLS: session.TLSConfig{
		Enabled: true, Mutual: true,
		CertFile: bundle.ClientCert, KeyFile: bundle.ClientKey, CAFile: bundle.CAFile,
	}}
	c, err := Connect(ctx, "tls://"+addr.String(), clientCfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Put(ctx, keyexpr.MustNew("secure/a"), []byte("x"), engine.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = c.Close()

	anonymous := session.Config{
		ConnectTimeout: time.Second,
		TLS:            session.TLSConfig{Enabled: true, CAFile: bundle.CAFile},
		Backoff:        session.BackoffConfig{InitialDelay: time.Millisecond, MaxAttempts: 1},
	}
	if c, err := Connect(ctx, "tls://"+addr.String(), anonymous); err == nil {
		_ = c.Close()
		t.Fatalf("expected handshake without client cert to fail")
	}
}

func TestConnectOverWebSocket(t *testing.T) {
	testlog.Start(t)
	gw := newGateway(t)
	ts := httptest.NewServer(server.New(server.Config{Name: "client-test", CorsOrigins: []string{"*"}}, gw).Router())
	defer ts.Close()

	address := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	c, err := Connect(context.Background(), address, session.Config{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.SessionID() == uuid.Nil {
		t.Fatalf("expected session id")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDialGivesUpAfterBackoff(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := session.Config{
		ConnectTimeout: 200 * time.Millisecond,
		Backoff:        session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1, MaxAttempts: 2},
	}
	if _, err := Dial(context.Background(), addr, cfg); err == nil || !strings.Contains(err.Error(), "after 2 retries") {
		t.Fatalf("expected dial failure after retries, got %v", err)
	}
	if _, err := Dial(context.Background(), "quic://"+addr, cfg); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"127.0.0.1:7447":        "tcp",
		"tcp://127.0.0.1:7447":  "tcp",
		"ws://localhost:10000/": "ws",
		"wss://example.com/zr":  "wss",
	}
	for in, scheme := range cases {
		u, err := parseAddress(in)
		if err != nil || u.Scheme != scheme {
			t.Fatalf("parseAddress(%q) = %v, %v", in, u, err)
		}
	}
	if _, err := parseAddress("tcp://"); err == nil {
		t.Fatalf("expected missing host error")
	}
}
