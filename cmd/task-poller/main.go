package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mailcheck/internal/backend"
	"mailcheck/internal/config"
	"mailcheck/internal/logger"
	"mailcheck/internal/pipeline"
	"mailcheck/internal/poller"
	"mailcheck/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	must(cfg.RequireBackendAuth())

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	verifier := pipeline.NewVerificationService(backend.NewClient(cfg.Backend), db, log, cfg.Poller.Concurrency)
	svc := poller.NewService(verifier, db, cfg.Poller, cfg.OutputDir, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
