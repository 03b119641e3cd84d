package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stackalign/internal/cli"
	"stackalign/internal/config"
	"stackalign/internal/logging"
	"stackalign/internal/runner"
	"stackalign/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		// Runs still work without history; they just are not recorded.
		logger.Warn("run history unavailable", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(ctx, logger, store)
	defer r.Stop()

	rootCmd := cli.NewRootCmd(cfg, logger, store, r)
	return rootCmd.ExecuteContext(ctx)
}
