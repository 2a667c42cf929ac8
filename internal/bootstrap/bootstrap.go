// Package bootstrap wires configuration into the storage, broker and HTTP
// components shared by the binaries under cmd/.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/rueidis"

	"github.com/jnst/traceable-outbox/internal/broker"
	"github.com/jnst/traceable-outbox/internal/config"
	"github.com/jnst/traceable-outbox/internal/db"
	"github.com/jnst/traceable-outbox/internal/repository"
	"github.com/jnst/traceable-outbox/internal/service"
)

const (
	signalBufferSize  = 1
	readHeaderTimeout = 5 * time.Second
)

// Broker publishes and subscribes over one connection.
type Broker interface {
	broker.Publisher
	broker.Subscriber
	Close()
}

// SetupSignalHandling returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandling(name string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			slog.Info("shutdown signal received", slog.String("service", name))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// OpenDatabase connects to the configured database and applies the schema.
func OpenDatabase(ctx context.Context, cfg *config.Config) (db.Pool, error) {
	pool, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

type redisBroker struct {
	*broker.RedisStreams
	client rueidis.Client
}

func (b *redisBroker) Close() {
	b.client.Close()
}

func setupRedisClient(cfg *config.Config) (rueidis.Client, error) {
	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, err
	}

	return redisClient, nil
}

// OpenBroker connects to the configured broker. Subscriptions join the
// configured consumer group.
func OpenBroker(cfg *config.Config) (Broker, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		client, err := setupRedisClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		streams := broker.NewRedisStreams(client,
			broker.WithRedisConsumer(cfg.ConsumerGroup(), cfg.Consumer.Name),
			broker.WithRedisBlock(cfg.Consumer.Block),
		)

		return &redisBroker{RedisStreams: streams, client: client}, nil
	case config.BrokerRabbitMQ:
		rabbit, err := broker.NewRabbitMQ(cfg.RabbitMQURL,
			broker.WithRabbitMQConsumer(cfg.ConsumerGroup(), cfg.Consumer.Name),
		)
		if err != nil {
			return nil, err
		}

		return rabbit, nil
	default:
		return nil, fmt.Errorf("unsupported broker %q", cfg.Broker)
	}
}

// NewOutboxService builds the outbox service with the relay settings of cfg.
// publisher may be nil for processes that only record changes.
func NewOutboxService(cfg *config.Config, pool db.Pool, publisher broker.Publisher) *service.OutboxServiceImpl {
	return service.NewOutboxServiceImpl(
		repository.NewOutboxRepositoryImpl(pool),
		repository.NewTransactionManagerImpl(pool),
		publisher,
		service.WithMaxAttempts(cfg.Relay.MaxAttempts),
		service.WithBackoff(cfg.Relay.BaseBackoff, cfg.Relay.MaxBackoff),
		service.WithAttemptTimeout(cfg.Relay.AttemptTimeout),
		service.WithLease(cfg.Relay.Lease),
		service.WithRetention(cfg.Relay.Retention),
	)
}

// RunHTTPServer serves handler on addr until ctx is cancelled, then drains open
// requests for at most shutdownTimeout.
func RunHTTPServer(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
