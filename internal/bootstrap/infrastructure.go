package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/config"
	httpx "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/http"
)

// Infrastructure holds the shared connections the configured backends need.
// DB is nil unless Postgres storage or queueing is selected; Redis likewise.
type Infrastructure struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// NeedsPostgres reports whether any selected backend lives in Postgres.
func NeedsPostgres(cfg *config.AppConfig) bool {
	return cfg.StorageBackend == config.StorageBackendPostgres || cfg.QueueBackend == config.QueueBackendPostgres
}

// NeedsRedis reports whether any selected backend lives in Redis.
func NeedsRedis(cfg *config.AppConfig) bool {
	return cfg.QueueBackend == config.QueueBackendRedis || cfg.CacheBackend == config.CacheBackendRedis
}

// OpenInfrastructure connects the backends selected by cfg and applies migrations when enabled.
func OpenInfrastructure(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Infrastructure, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dbCfg := DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: logger}

	infra := &Infrastructure{}
	if NeedsPostgres(cfg) {
		db, err := ConnectDB(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		infra.DB = db

		if cfg.Postgres.RunMigrationsOnStart {
			if err := RunMigrations(ctx, db, logger); err != nil {
				return nil, errors.Join(err, infra.Close())
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
	}

	if NeedsRedis(cfg) {
		client, err := ConnectRedis(ctx, dbCfg)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("connect redis: %w", err), infra.Close())
		}
		infra.Redis = client
	}
	return infra, nil
}

// Close releases every open connection.
func (i *Infrastructure) Close() error {
	if i == nil {
		return nil
	}
	var errs []error
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Checks returns readiness probes for the open connections.
func (i *Infrastructure) Checks() map[string]httpx.HealthCheck {
	checks := map[string]httpx.HealthCheck{}
	if i == nil {
		return checks
	}
	if i.DB != nil {
		checks["postgres"] = i.DB.PingContext
	}
	if i.Redis != nil {
		client := i.Redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}
