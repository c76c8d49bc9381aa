// Package postgres реализует серверное хранилище синхронизации на PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nnsi/hono-practice-sub007/internal/server/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var _ storage.Store = (*Storage)(nil)

// PoolConfig параметры пула соединений
type PoolConfig struct {
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	MaxConns          int32
	MinConns          int32
}

// DefaultPoolConfig возвращает параметры пула по умолчанию
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        20,
		MinConns:        2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// Storage represents PostgreSQL storage implementation
type Storage struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a connection pool and applies migrations
func New(ctx context.Context, url string, poolCfg PoolConfig, logger *slog.Logger) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	cfg.MaxConns = poolCfg.MaxConns
	cfg.MinConns = poolCfg.MinConns
	cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	if cfg.HealthCheckPeriod <= 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("postgres connection pool created",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns)

	s := &Storage{pool: pool, logger: logger}

	if err := s.runMigrations(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Ping проверяет соединение с БД
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx выполняет fn в транзакции READ COMMITTED; строки блокируются через FOR UPDATE
func (s *Storage) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// runMigrations выполняет миграции из embedded FS через database/sql обертку пула
func (s *Storage) runMigrations() error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// Pool returns the underlying pool for testing purposes
func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}
