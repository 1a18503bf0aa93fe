package main

import (
	"github.com/danmuck/zremote/internal/config"
	"github.com/danmuck/zremote/internal/engine/loopback"
	"github.com/danmuck/zremote/internal/gateway"
	"github.com/danmuck/zremote/internal/server"
)

type daemon struct {
	engine  *loopback.Engine
	gateway *gateway.Gateway
	server  *server.Server
}

// newDaemon wires a loopback engine behind a gateway and its HTTP server.
func newDaemon(cfg config.GatewayConfig) (*daemon, error) {
	sc, err := cfg.Session()
	if err != nil {
		return nil, err
	}
	eng := loopback.New(loopback.Config{ID: cfg.EngineID, QueryTimeout: sc.QueryTimeout})
	gw := gateway.New(eng, sc)
	srv := server.New(server.Config{
		Name:        cfg.Name,
		Addr:        cfg.Addr,
		TCPAddr:     cfg.TCPAddr,
		WSPath:      cfg.WSPath,
		CorsOrigins: cfg.CorsOrigins,
	}, gw)
	return &daemon{engine: eng, gateway: gw, server: srv}, nil
}
