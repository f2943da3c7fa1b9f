// Command triton runs the generation-pipeline service: the JSON API, the queue workers and the reaper.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/config"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	cfg, err := bootstrap.LoadConfig()
	logger := bootstrap.InitLogger(err == nil && cfg.IsDev)
	if err != nil {
		logger.ErrorContext(ctx, "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
	if err := run(ctx, &cfg, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (err error) {
	if err = bootstrap.ValidateServiceConfig(cfg); err != nil {
		return err
	}
	logStartupInfo(ctx, logger, cfg)

	infra, err := bootstrap.OpenInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close infrastructure failed", "error", cerr)
		}
	}()

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:  cfg,
		Infra:   infra,
		Logger:  logger,
		Workers: cfg.IsWorkerEnabled(),
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, services.Close())
	}()

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfg,
		Services: services,
		Infra:    infra,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting triton service",
		"enabled_services", bootstrap.GetEnabledServices(cfg),
		"storage_backend", cfg.StorageBackend,
		"queue_backend", cfg.QueueBackend,
		"cache_backend", cfg.CacheBackend,
		"agent_provider", cfg.Agent.Provider,
		"fanout_threshold", cfg.Fanout.Threshold,
		"refinement_limit", cfg.Artifact.RefinementLimit,
	)
}
