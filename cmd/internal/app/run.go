package app

import (
	"context"
	"os/signal"
	"syscall"

	"learnhub/cmd/internal/migrations"
)

// Run is the CLI entrypoint used by cmd/learnhub.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}

	return a.Run(ctx)
}

// Migrate applies (up) or rolls back (down) the embedded schema migrations
// against the configured database.
func Migrate(direction string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel)

	if err := migrations.Run(cfg.DatabaseURL, direction); err != nil {
		log.Error("db.migrate.fail", "direction", direction, "err", err)
		return err
	}

	version, dirty, err := migrations.Version(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	log.Info("db.migrate.ok", "direction", direction, "version", version, "dirty", dirty)
	return nil
}
