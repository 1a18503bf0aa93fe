package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/zremote/internal/protocol/session"
)

type fileConfig struct {
	Address            string `toml:"address"`
	ConnectTimeout     string `toml:"connect_timeout"`
	AckTimeout         string `toml:"ack_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	SecurityMode       string `toml:"security_mode"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	TLSMutual          bool   `toml:"tls_mutual"`
	TLSCertFile        string `toml:"tls_cert_file"`
	TLSKeyFile         string `toml:"tls_key_file"`
	TLSCAFile          string `toml:"tls_ca_file"`
	TLSServerName      string `toml:"tls_server_name"`
	TLSInsecureSkip    bool   `toml:"tls_insecure_skip_verify"`
}

type cliConfig struct {
	Address string
	Session session.Config
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Address: "ws://127.0.0.1:10000/",
		Session: session.DefaultConfig(),
	}
}

// loadCLIConfig overlays the keys present in path onto the defaults.
func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load zremotectl config: %w", err)
	}

	if meta.IsDefined("address") {
		if addr := strings.TrimSpace(raw.Address); addr != "" {
			cfg.Address = addr
		}
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Session.ConnectTimeout = d
	}

	if meta.IsDefined("ack_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.AckTimeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse ack_timeout: %w", err)
		}
		cfg.Session.AckTimeout = d
	}

	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.Backoff.MaxAttempts = raw.MaxConnectAttempts
	}

	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}

	if meta.IsDefined("tls_enabled") {
		cfg.Session.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.Session.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLSInsecureSkip
	}

	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return cliConfig{}, fmt.Errorf("zremotectl transport: %w", err)
	}
	return cfg, nil
}
