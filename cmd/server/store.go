package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nnsi/hono-practice-sub007/internal/config"
	"github.com/nnsi/hono-practice-sub007/internal/server/storage"
	"github.com/nnsi/hono-practice-sub007/internal/server/storage/postgres"
	"github.com/nnsi/hono-practice-sub007/internal/server/storage/sqlite"
)

// openStore открывает хранилище выбранного драйвера и применяет миграции
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.New(ctx, cfg.Path)
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.URL, postgres.PoolConfig{
			MaxConns:          int32(cfg.Pool.MaxConns),
			MinConns:          int32(cfg.Pool.MinConns),
			MaxConnLifetime:   cfg.Pool.MaxConnLifetime.Std(),
			MaxConnIdleTime:   cfg.Pool.MaxConnIdleTime.Std(),
			HealthCheckPeriod: cfg.Pool.HealthCheckPeriod.Std(),
		}, logger)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
