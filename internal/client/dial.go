package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/protocol/frame"
	"github.com/danmuck/zremote/internal/protocol/session"
)

var ErrUnsupportedScheme = errors.New("client: unsupported address scheme")

// Dial connects to address, retrying with the configured backoff. Addresses
// are ws://, wss://, tcp://, tls:// or a bare host:port (plain TCP).
func Dial(ctx context.Context, address string, cfg session.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	tlsCfg, err := cfg.ClientTLS()
	if err != nil {
		return nil, err
	}
	target, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "wss" || target.Scheme == "tls" {
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	if tlsCfg != nil && tlsCfg.ServerName == "" {
		tlsCfg.ServerName = target.Hostname()
	}

	backoff := session.NewBackoff(cfg.Backoff, rand.New(rand.NewSource(time.Now().UnixNano())))
	for {
		transport, dialErr := dialOnce(ctx, target, cfg, tlsCfg)
		if dialErr == nil {
			return New(transport, cfg), nil
		}
		if errors.Is(dialErr, ErrUnsupportedScheme) {
			return nil, dialErr
		}
		delay, ok := backoff.Next()
		if !ok {
			return nil, fmt.Errorf("client: dial %s: gave up after %d retries: %w", address, backoff.Attempt(), dialErr)
		}
		log.Debug().Err(dialErr).Str("address", address).Int("attempt", backoff.Attempt()).Dur("retry_in", delay).Msg("client dial failed")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("client: dial %s: %w", address, ctx.Err())
		case <-timer.C:
		}
	}
}

func parseAddress(address string) (*url.URL, error) {
	if !strings.Contains(address, "://") {
		address = "tcp://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("client: parse address %q: %w", address, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("client: address %q has no host", address)
	}
	return u, nil
}

func dialOnce(ctx context.Context, target *url.URL, cfg session.Config, tlsCfg *tls.Config) (frame.Conn, error) {
	limits := frame.Limits{MaxMessageBytes: cfg.MaxMessageBytes, WriteTimeout: cfg.WriteTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	switch target.Scheme {
	case "ws", "wss":
		dialer := websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
			TLSClientConfig:  tlsCfg,
			Proxy:            websocket.DefaultDialer.Proxy,
		}
		ws, _, err := dialer.DialContext(dialCtx, target.String(), nil)
		if err != nil {
			return nil, err
		}
		conn := frame.NewWebSocketConn(ws, limits)
		go conn.KeepAlive(cfg.HeartbeatInterval, cfg.SessionDeadAfter)
		return conn, nil
	case "tcp", "tls":
		var d net.Dialer
		nc, err := d.DialContext(dialCtx, "tcp", target.Host)
		if err != nil {
			return nil, err
		}
		if tlsCfg != nil {
			tc := tls.Client(nc, tlsCfg)
			if err := tc.HandshakeContext(dialCtx); err != nil {
				_ = nc.Close()
				return nil, err
			}
			nc = tc
		}
		return frame.NewLineConn(nc, limits), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}
}
