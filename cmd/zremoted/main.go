package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/config"
	"github.com/danmuck/zremote/internal/observability"
)

func main() {
	configPath := flag.String("config", "cmd/zremoted/config.toml", "gateway config path")
	initConfig := flag.Bool("init", false, "write a config template to -config and exit")
	force := flag.Bool("force", false, "overwrite an existing config with -init")
	flag.Parse()

	observability.InitLogger("zremoted")
	if *initConfig {
		if err := config.WriteTemplate(*configPath, "gateway", *force); err != nil {
			log.Fatal().Err(err).Msg("failed to write gateway config")
		}
		log.Info().Str("path", *configPath).Msg("wrote gateway config template")
		return
	}

	cfg, err := config.LoadGatewayConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load gateway config")
	}
	log.Info().Str("path", *configPath).Msg("loaded gateway config")

	d, err := newDaemon(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build gateway")
	}
	defer d.engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info().Str("name", cfg.Name).Str("addr", cfg.Addr).Str("tcp_addr", cfg.TCPAddr).Msg("gateway started")
	if err := d.server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}
