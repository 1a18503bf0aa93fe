// Package config loads the gateway daemon's TOML file and writes starter
// templates for the daemon and the CLI.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/zremote/internal/protocol/session"
)

type GatewayConfig struct {
	Name            string    `toml:"name"`
	Addr            string    `toml:"addr"`
	TCPAddr         string    `toml:"tcp_addr"`
	WSPath          string    `toml:"ws_path"`
	CorsOrigins     []string  `toml:"cors_origins"`
	EngineID        string    `toml:"engine_id"`
	MaxMessageBytes int       `toml:"max_message_bytes"`
	QueryTimeout    string    `toml:"query_timeout"`
	WriteTimeout    string    `toml:"write_timeout"`
	SecurityMode    string    `toml:"security_mode"`
	TLS             TLSConfig `toml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Mutual   bool   `toml:"mutual"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
}

func LoadGatewayConfig(path string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := loadToml(path, &cfg); err != nil {
		return GatewayConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "zremoted"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":10000"
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/"
	}
	if err := ValidateGatewayConfig(cfg); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateGatewayConfig(cfg GatewayConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("gateway config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("gateway config missing addr")
	}
	if !strings.HasPrefix(cfg.WSPath, "/") {
		return fmt.Errorf("gateway config ws_path must start with '/': %q", cfg.WSPath)
	}
	if cfg.MaxMessageBytes < 0 {
		return fmt.Errorf("gateway config max_message_bytes must not be negative")
	}
	if _, err := cfg.Session(); err != nil {
		return err
	}
	return nil
}

// Session maps the file's limits and TLS settings onto a session config.
// Unset values keep session defaults.
func (c GatewayConfig) Session() (session.Config, error) {
	out := session.Config{
		MaxMessageBytes: c.MaxMessageBytes,
		SecurityMode:    session.SecurityMode(c.SecurityMode),
		TLS: session.TLSConfig{
			Enabled:  c.TLS.Enabled,
			Mutual:   c.TLS.Mutual,
			CertFile: strings.TrimSpace(c.TLS.CertFile),
			KeyFile:  strings.TrimSpace(c.TLS.KeyFile),
			CAFile:   strings.TrimSpace(c.TLS.CAFile),
		},
	}
	var err error
	if out.QueryTimeout, err = parseDuration("query_timeout", c.QueryTimeout); err != nil {
		return session.Config{}, err
	}
	if out.WriteTimeout, err = parseDuration("write_timeout", c.WriteTimeout); err != nil {
		return session.Config{}, err
	}
	out = out.WithDefaults()
	if err := out.ValidateServerTransport(); err != nil {
		return session.Config{}, fmt.Errorf("gateway config transport: %w", err)
	}
	return out, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive: %s", field, raw)
	}
	return d, nil
}
