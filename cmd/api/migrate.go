package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/geocoder89/wascheduler/internal/config"
	"github.com/geocoder89/wascheduler/internal/db"
	"github.com/geocoder89/wascheduler/internal/observability"
)

func runMigrate(ctx context.Context) error {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	pool, err := db.NewPool(ctx, cfg.DBURL, db.WithMaxConns(2))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	log.Info("migrations applied")
	return nil
}
