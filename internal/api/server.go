// Package api exposes the user, order and outbox operations over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jnst/traceable-outbox/internal/service"
	"github.com/jnst/traceable-outbox/internal/tracing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	contentTypeJSON = "Content-Type"
	applicationJSON = "application/json"
	decimalBase     = 10
	int64BitSize    = 64
	maxBodyBytes    = 1 << 20
	healthTimeout   = 2 * time.Second

	defaultFailedLimit = 100
	maxFailedLimit     = 1000
)

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIServer handles HTTP requests for the services it was given. Routes of a
// service left nil are not registered.
type APIServer struct {
	users  service.UserService
	orders service.OrderService
	outbox service.OutboxService
	store  Pinger
	now    func() time.Time
}

// Option configures an APIServer.
type Option func(*APIServer)

// WithUserService registers the /api/v1/users routes.
func WithUserService(users service.UserService) Option {
	return func(s *APIServer) { s.users = users }
}

// WithOrderService registers the /api/v1/orders routes.
func WithOrderService(orders service.OrderService) Option {
	return func(s *APIServer) { s.orders = orders }
}

// WithOutboxService registers the /admin/outbox routes.
func WithOutboxService(outbox service.OutboxService) Option {
	return func(s *APIServer) { s.outbox = outbox }
}

// WithClock overrides the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *APIServer) { s.now = now }
}

// NewAPIServer creates a new API server instance.
func NewAPIServer(store Pinger, opts ...Option) *APIServer {
	s := &APIServer{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the routed handler. Every request runs under a trace id.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.HealthCheck)

	if s.users != nil {
		mux.HandleFunc("POST /api/v1/users", s.CreateUser)
		mux.HandleFunc("GET /api/v1/users", s.ListUsers)
		mux.HandleFunc("GET /api/v1/users/{id}", s.GetUser)
	}

	if s.orders != nil {
		mux.HandleFunc("POST /api/v1/orders", s.CreateOrder)
		mux.HandleFunc("GET /api/v1/orders/{id}", s.GetOrder)
		mux.HandleFunc("GET /api/v1/orders/number/{orderNumber}", s.GetOrderByNumber)
		mux.HandleFunc("GET /api/v1/orders/customer/{customerId}", s.ListCustomerOrders)
		mux.HandleFunc("PUT /api/v1/orders/{id}/status", s.UpdateOrderStatus)
	}

	if s.outbox != nil {
		mux.HandleFunc("GET /admin/outbox/failed", s.ListFailedEvents)
		mux.HandleFunc("GET /admin/outbox/stats", s.OutboxStats)
		mux.HandleFunc("POST /admin/outbox/{id}/retry", s.RetryEvent)
	}

	return tracing.Middleware(s.recoverer(accessLog(mux)))
}

// HealthCheck handles GET /health endpoint for service health check.
func (s *APIServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, body := http.StatusOK, map[string]string{"status": "ok"}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", slog.String("error", err.Error()))
			status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}
		}
	}

	writeJSON(r.Context(), w, status, body)
}

func (s *APIServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.ErrorContext(r.Context(), "panic while handling request",
					slog.Any("panic", v),
					slog.String("path", r.URL.Path),
				)
				s.writeStatus(w, r, http.StatusInternalServerError, internalErrorMessage, nil)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.InfoContext(r.Context(), "request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), decimalBase, int64BitSize)
	if err != nil || id <= 0 {
		return 0, invalidParam(name, "must be a positive integer")
	}

	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalidParam("body", "request body is not valid JSON")
	}

	return nil
}
