package bootstrap_test

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/traceable-outbox/internal/bootstrap"
	"github.com/jnst/traceable-outbox/internal/config"
	"github.com/jnst/traceable-outbox/internal/db/dbtest"
	"github.com/jnst/traceable-outbox/internal/model"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Service:        config.ServiceUsers,
		DatabaseDriver: config.DriverSQLite,
		DatabaseURL:    dbtest.DSN(t.TempDir()),
		Broker:         "kafka",
		Relay: config.RelayConfig{
			MaxAttempts:    3,
			BaseBackoff:    time.Second,
			MaxBackoff:     time.Minute,
			AttemptTimeout: time.Second,
			Lease:          10 * time.Second,
			Retention:      time.Hour,
		},
	}
}

func TestOpenDatabaseMigrates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	pool, err := bootstrap.OpenDatabase(ctx, sqliteConfig(t))
	require.NoError(t, err)
	defer pool.Close()

	outbox := bootstrap.NewOutboxService(sqliteConfig(t), pool, nil)

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[model.OutboxStatusPending])
}

func TestOpenDatabaseUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := sqliteConfig(t)
	cfg.DatabaseDriver = "mysql"

	_, err := bootstrap.OpenDatabase(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenBrokerUnsupported(t *testing.T) {
	t.Parallel()

	_, err := bootstrap.OpenBroker(sqliteConfig(t))
	assert.ErrorContains(t, err, "kafka")
}

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

func TestRunHTTPServerStopsWithContext(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- bootstrap.RunHTTPServer(ctx, addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}), time.Second)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunHTTPServerAddressInUse(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	err = bootstrap.RunHTTPServer(context.Background(), l.Addr().String(), http.NotFoundHandler(), time.Second)
	assert.ErrorContains(t, err, "failed to start server")
}
