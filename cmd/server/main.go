// Package main is the entry point for the trip CMS API server.
//
// main stays small: load configuration, build the logger, open the store
// and hand everything to internal/server. All behaviour lives in the
// internal packages so it can be tested without running a process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/tripcms/internal/config"
	"github.com/sakif/tripcms/internal/mailer"
	"github.com/sakif/tripcms/internal/server"
)

const startupTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// JSON logs in production, human-readable text everywhere else.
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	store, err := server.OpenStore(ctx, cfg.Database)
	cancel()
	if err != nil {
		logger.Error("failed to open database",
			slog.String("driver", cfg.Database.Driver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if n, err := store.CountUsers(context.Background()); err == nil && n == 0 {
		logger.Warn("no accounts exist yet; create one with: tripcmsctl create-user -username <name>")
	}

	if !cfg.SMTP.Enabled() {
		logger.Warn("SMTP_HOST/SMTP_FROM not set; password reset links will not be delivered")
	}

	srv, err := server.New(cfg, store, mailer.New(cfg.SMTP, logger), logger)
	if err != nil {
		store.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
