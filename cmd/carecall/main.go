package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carelinkhq/carecall/internal/app"
	"github.com/carelinkhq/carecall/internal/config"
	"github.com/carelinkhq/carecall/internal/log"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (yaml)")
	flag.Parse()

	bootLogger := log.New("info")

	cfg, source, err := config.Load(bootLogger, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", source).Str("addr", cfg.Addr).Msg("starting carecall server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}
