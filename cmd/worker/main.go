package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"CreatorDeals/internal/app"
	"CreatorDeals/internal/config"
	"CreatorDeals/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.Log.Level)
	if cfg.DB.Driver == config.DriverMemory {
		log.Fatalf("worker needs a shared database, db.driver is %q", cfg.DB.Driver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Worker(cfg).Run(ctx); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}
