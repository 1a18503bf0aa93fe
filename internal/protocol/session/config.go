package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	MaxAttempts  int
}

// SecurityMode selects how strictly transport security is enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig names the certificate material of one side of a connection.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
}

// Config defines remote API session timeouts and limits.
type Config struct {
	// ConnectTimeout bounds a client dial.
	ConnectTimeout time.Duration
	// HandshakeTimeout bounds the OpenSession/Session exchange.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// HeartbeatInterval is the websocket ping period; a peer silent for
	// SessionDeadAfter is dropped.
	HeartbeatInterval time.Duration
	SessionDeadAfter  time.Duration
	// AckTimeout bounds how long a client waits for a declaration ack.
	AckTimeout time.Duration
	// QueryTimeout bounds a Get and a query delivered to a queryable.
	QueryTimeout    time.Duration
	MaxMessageBytes int
	Backoff         BackoffConfig
	SecurityMode    SecurityMode
	TLS             TLSConfig
}

// DefaultConfig returns the session defaults used by the gateway and client.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      15 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		SessionDeadAfter:  60 * time.Second,
		AckTimeout:        20 * time.Second,
		QueryTimeout:      10 * time.Second,
		MaxMessageBytes:   16 << 20,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
			MaxAttempts:  5,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills every unset field of c from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.SessionDeadAfter <= 0 {
		c.SessionDeadAfter = d.SessionDeadAfter
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
