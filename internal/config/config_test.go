package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/zremote/internal/protocol/session"
	"github.com/danmuck/zremote/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestGatewayTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	if err := WriteTemplate(path, "gateway", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "zremoted" || cfg.Addr != ":10000" || cfg.WSPath != "/" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	sc, err := cfg.Session()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sc.QueryTimeout != 10*time.Second || sc.WriteTimeout != 15*time.Second || sc.MaxMessageBytes != 16<<20 {
		t.Fatalf("unexpected session config %+v", sc)
	}
	if err := WriteTemplate(path, "gateway", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, "client", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestLoadGatewayConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadGatewayConfig(writeFile(t, "tcp_addr = \":7447\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "zremoted" || cfg.Addr != ":10000" || cfg.WSPath != "/" || cfg.TCPAddr != ":7447" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	sc, err := cfg.Session()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sc.QueryTimeout != session.DefaultConfig().QueryTimeout {
		t.Fatalf("expected default query timeout, got %v", sc.QueryTimeout)
	}
}

func TestLoadGatewayConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration":   "query_timeout = \"soon\"\n",
		"zero duration":  "write_timeout = \"0s\"\n",
		"relative path":  "ws_path = \"ws\"\n",
		"negative limit": "max_message_bytes = -1\n",
		"tls no cert":    "[tls]\nenabled = true\n",
		"bad toml":       "name = \n",
	}
	for name, body := range cases {
		if _, err := LoadGatewayConfig(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	_, err := LoadGatewayConfig(writeFile(t, "security_mode = \"production\"\n"))
	if !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	if _, err := LoadGatewayConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load failure, got %v", err)
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("seed"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if tpl, err := Template(" Client "); err != nil || !strings.Contains(tpl, "address") {
		t.Fatalf("client template: %v", err)
	}
}
