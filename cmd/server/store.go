package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"dataplane-signaling/backend/internal/config"
	"dataplane-signaling/backend/internal/logging"
	"dataplane-signaling/backend/internal/repository"
)

// migrator is implemented by the SQL stores.
type migrator interface {
	Migrate(ctx context.Context) error
}

// openStore builds the flow store selected by store.driver.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.FlowStore, error) {
	leaseCfg := repository.LeaseConfig{
		Duration:    cfg.Lease.Duration,
		GracePeriod: cfg.Lease.GracePeriod,
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
		return repository.NewPostgresFlowStore(pool, leaseCfg), nil
	case config.DriverSQLite:
		db, err := repository.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("SQLite store opened", "path", cfg.Store.SQLitePath)
		return repository.NewSQLiteFlowStore(db, leaseCfg), nil
	case config.DriverMemory:
		logger.Warn("Using the in-memory store; data flows are lost on restart")
		return repository.NewMemoryFlowStore(leaseCfg), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
