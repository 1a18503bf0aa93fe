package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/zremote/internal/protocol/session"
	"github.com/danmuck/zremote/internal/testutil/testlog"
)

func TestLoadCLIConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadCLIConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Address != "tcp://127.0.0.1:7447" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if cfg.Session.ConnectTimeout != 2*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.Session.ConnectTimeout)
	}
	if cfg.Session.AckTimeout != 3*time.Second {
		t.Fatalf("unexpected ack timeout: %v", cfg.Session.AckTimeout)
	}
	if cfg.Session.Backoff.MaxAttempts != 0 {
		t.Fatalf("unexpected max attempts: %d", cfg.Session.Backoff.MaxAttempts)
	}
	if cfg.Session.HandshakeTimeout != session.DefaultConfig().HandshakeTimeout {
		t.Fatalf("expected default handshake timeout, got %v", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.SecurityMode != session.SecurityModeDevelopment {
		t.Fatalf("unexpected security mode: %q", cfg.Session.SecurityMode)
	}
	if cfg.Session.TLS.Enabled || cfg.Session.TLS.Mutual {
		t.Fatalf("expected tls disabled")
	}
}

func TestLoadCLIConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("ack_timeout = \"1s\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadCLIConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Address != defaultCLIConfig().Address {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if cfg.Session.Backoff.MaxAttempts != session.DefaultConfig().Backoff.MaxAttempts {
		t.Fatalf("unexpected max attempts: %d", cfg.Session.Backoff.MaxAttempts)
	}
}

func TestLoadCLIConfigRejects(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		return path
	}
	if _, err := loadCLIConfig(write("bad.toml", "connect_timeout = \"later\"\n")); err == nil {
		t.Fatalf("expected duration error")
	}
	_, err := loadCLIConfig(write("prod.toml", "security_mode = \"production\"\n"))
	if !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	if _, err := loadCLIConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
