package main

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/zremote/internal/config"
	"github.com/danmuck/zremote/internal/testutil/testlog"
)

func TestNewDaemonFromExampleConfig(t *testing.T) {
	testlog.Start(t)
	cfg, err := config.LoadGatewayConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	d, err := newDaemon(cfg)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer d.engine.Close()
	if d.engine.ID() != "loopback.local" {
		t.Fatalf("unexpected engine id %q", d.engine.ID())
	}
	sc := d.gateway.Config()
	if sc.QueryTimeout != 5*time.Second || sc.WriteTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts %v %v", sc.QueryTimeout, sc.WriteTimeout)
	}
	if d.gateway.Limits().MaxMessageBytes != 1<<20 {
		t.Fatalf("unexpected limit %d", d.gateway.Limits().MaxMessageBytes)
	}
}

func TestDaemonRunsUntilCancelled(t *testing.T) {
	testlog.Start(t)
	d, err := newDaemon(config.GatewayConfig{Name: "zremoted.test", Addr: "127.0.0.1:0", TCPAddr: "127.0.0.1:0", WSPath: "/"})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer d.engine.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.server.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatalf("daemon did not stop")
	}
}
