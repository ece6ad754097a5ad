package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"stochroc/internal/indengine"
	"stochroc/internal/logger"
)

func main() {
	cfg, err := indengine.LoadConfig()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	log, closer := logger.Init(logger.Options{
		Service: "indengine",
		Level:   logger.ParseLevel(cfg.LogLevel),
		File:    cfg.LogFile,
	})
	defer closer.Close()

	log.Info("config loaded",
		"tfs", cfg.EnabledTFs,
		"indicators", cfg.IndicatorSpecs,
		"snapshot_interval", cfg.SnapshotInterval.String(),
		"tokens", len(cfg.SubscribeTokens))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := indengine.New(ctx, cfg)
	if err != nil {
		log.Error("init failed", "err", err)
		closer.Close()
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", "err", err)
		closer.Close()
		os.Exit(1)
	}
}
