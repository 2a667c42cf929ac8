// Package main provides the order-service HTTP API.
package main

import (
	"log/slog"
	"os"

	"github.com/jnst/traceable-outbox/internal/api"
	"github.com/jnst/traceable-outbox/internal/bootstrap"
	"github.com/jnst/traceable-outbox/internal/config"
	"github.com/jnst/traceable-outbox/internal/logger"
	"github.com/jnst/traceable-outbox/internal/repository"
	"github.com/jnst/traceable-outbox/internal/service"
)

const exitCode = 1

func run(cfg *config.Config) error {
	ctx, cancel := bootstrap.SetupSignalHandling("orderapi")
	defer cancel()

	dbPool, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	// the relay runs in cmd/publisher; this process only records outbox entries
	outboxService := bootstrap.NewOutboxService(cfg, dbPool, nil)
	orderService := service.NewOrderServiceImpl(repository.NewOrderRepositoryImpl(dbPool), outboxService)

	server := api.NewAPIServer(dbPool,
		api.WithOrderService(orderService),
		api.WithOutboxService(outboxService),
	)

	slog.Info("starting API server",
		slog.String("service", "orderapi"),
		slog.String("port", cfg.Port),
		slog.String("database_driver", cfg.DatabaseDriver),
	)

	return bootstrap.RunHTTPServer(ctx, ":"+cfg.Port, server.Handler(), cfg.ShutdownTimeout)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

	if err := run(cfg); err != nil {
		slog.Error("order API stopped with error", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.Info("order API stopped")
}
