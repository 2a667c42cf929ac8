// Package main provides the idempotent event consumer of one service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jnst/traceable-outbox/internal/bootstrap"
	"github.com/jnst/traceable-outbox/internal/broker"
	"github.com/jnst/traceable-outbox/internal/config"
	"github.com/jnst/traceable-outbox/internal/consumer"
	"github.com/jnst/traceable-outbox/internal/db"
	"github.com/jnst/traceable-outbox/internal/logger"
	"github.com/jnst/traceable-outbox/internal/repository"
)

const (
	errorRetryDelay = 1 * time.Second
	exitCode        = 1
)

// routesFor returns the dispatch table of the consuming service.
func routesFor(svc string, dbPool db.DBTX) ([]consumer.Route, error) {
	switch svc {
	case config.ServiceUsers:
		return consumer.UserServiceRoutes(repository.NewUserRepositoryImpl(dbPool)), nil
	case config.ServiceOrders:
		return consumer.OrderServiceRoutes(repository.NewCustomerRepositoryImpl(dbPool)), nil
	default:
		return nil, fmt.Errorf("unknown service %q", svc)
	}
}

// runConsumerLoop keeps the subscription alive until ctx ends. A subscription
// that drops is re-established after errorRetryDelay.
func runConsumerLoop(ctx context.Context, subscriber broker.Subscriber, dispatcher *consumer.Dispatcher) {
	for ctx.Err() == nil {
		err := subscriber.Subscribe(ctx, dispatcher.Topics(), dispatcher.Handle)
		if err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "error consuming messages",
				slog.String("consumer", dispatcher.Name()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
		case <-time.After(errorRetryDelay):
		}
	}

	slog.Info("consumer stopped", slog.String("consumer", dispatcher.Name()))
}

func run(cfg *config.Config) error {
	ctx, cancel := bootstrap.SetupSignalHandling("consumer")
	defer cancel()

	dbPool, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	routes, err := routesFor(cfg.Service, dbPool)
	if err != nil {
		return err
	}

	eventBroker, err := bootstrap.OpenBroker(cfg)
	if err != nil {
		return err
	}
	defer eventBroker.Close()

	dispatcher := consumer.NewDispatcher(
		cfg.ConsumerGroup(),
		repository.NewTransactionManagerImpl(dbPool),
		repository.NewProcessedEventRepositoryImpl(dbPool),
		routes,
	)

	slog.Info("starting message consumer",
		slog.String("service", cfg.Service),
		slog.String("broker", cfg.Broker),
		slog.String("group", cfg.ConsumerGroup()),
		slog.String("consumer", cfg.Consumer.Name),
		slog.Any("topics", dispatcher.Topics()),
	)

	runConsumerLoop(ctx, eventBroker, dispatcher)

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
		slog.Error("consumer stopped with error", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}
