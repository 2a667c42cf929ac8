// Package main provides the outbox publisher that relays recorded events to the broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jnst/traceable-outbox/internal/bootstrap"
	"github.com/jnst/traceable-outbox/internal/config"
	"github.com/jnst/traceable-outbox/internal/logger"
	"github.com/jnst/traceable-outbox/internal/service"
)

const exitCode = 1

// workerName identifies one relay loop of this process in lease columns.
func workerName(svc string, index int) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return fmt.Sprintf("%s-%s-%d-%d", svc, host, os.Getpid(), index)
}

// runPublisherLoop relays due entries every pollInterval. A full batch is
// followed by another claim right away.
func runPublisherLoop(
	ctx context.Context,
	outboxService service.OutboxService,
	worker string,
	pollInterval time.Duration,
	batchSize int,
) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			relayed, err := outboxService.ProcessUnpublishedEvents(ctx, worker, batchSize)
			if err != nil {
				if ctx.Err() == nil {
					slog.ErrorContext(ctx, "error processing outbox events",
						slog.String("worker", worker),
						slog.String("error", err.Error()),
					)
				}

				break
			}

			if relayed < batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("publisher worker stopped", slog.String("worker", worker))
			return
		case <-ticker.C:
		}
	}
}

// runGCLoop deletes relayed entries past retention every interval.
func runGCLoop(ctx context.Context, outboxService service.OutboxService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := outboxService.PurgeRelayed(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "error purging relayed events", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := bootstrap.SetupSignalHandling("publisher")
	defer cancel()

	dbPool, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	eventBroker, err := bootstrap.OpenBroker(cfg)
	if err != nil {
		return err
	}
	defer eventBroker.Close()

	outboxService := bootstrap.NewOutboxService(cfg, dbPool, eventBroker)

	slog.Info("starting outbox publisher",
		slog.String("service", cfg.Service),
		slog.String("broker", cfg.Broker),
		slog.Int("workers", cfg.Relay.Workers),
		slog.Duration("poll_interval", cfg.Relay.PollInterval),
		slog.Int("batch_size", cfg.Relay.BatchSize),
	)

	g, ctx := errgroup.WithContext(ctx)

	for i := range cfg.Relay.Workers {
		worker := workerName(cfg.Service, i)
		g.Go(func() error {
			runPublisherLoop(ctx, outboxService, worker, cfg.Relay.PollInterval, cfg.Relay.BatchSize)
			return nil
		})
	}

	g.Go(func() error {
		runGCLoop(ctx, outboxService, cfg.Relay.GCInterval)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

	if err := run(cfg); err != nil {
		slog.Error("publisher stopped with error", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.Info("publisher stopped")
}
