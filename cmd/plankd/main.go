// Command plankd runs the plank daemon: the board and webhook API server,
// the outbox relay, and the webhook retry poller.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/plankhq/plank/pkg/api"
	"github.com/plankhq/plank/pkg/app"
	"github.com/plankhq/plank/pkg/config"
	"github.com/plankhq/plank/pkg/logging"
)

func main() {
	configPath := flag.String("config", "plank.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)
	log.Logger = logger

	logger.Info().
		Str("environment", cfg.Environment).
		Str("db", cfg.Database.Path).
		Bool("outbox", cfg.Outbox.Enabled).
		Msg("starting plankd")

	container, err := app.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire application")
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if container.Relay != nil {
		go container.Relay.Run(ctx)
	}
	go container.RetryPoller.Run(ctx)

	server := api.NewServer(cfg, container, logger)
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start API server")
	}

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	if err := server.Stop(); err != nil {
		logger.Warn().Err(err).Msg("server shutdown error")
	}
}
