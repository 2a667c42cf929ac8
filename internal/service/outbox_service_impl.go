package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/jnst/traceable-outbox/internal/broker"
	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/repository"
	"github.com/jnst/traceable-outbox/internal/tracing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultMaxAttempts    = 10
	defaultBaseBackoff    = 500 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Minute
	defaultAttemptTimeout = 5 * time.Second
	defaultLease          = 30 * time.Second
	defaultRetention      = 7 * 24 * time.Hour
)

// ErrNoPublisher is returned by ProcessUnpublishedEvents when the service was built without a publisher.
var ErrNoPublisher = errors.New("outbox service has no publisher")

// OutboxServiceImpl records outbox entries with state changes and relays them to the broker.
type OutboxServiceImpl struct {
	outboxRepo     repository.OutboxRepository
	transactionMgr repository.TransactionManager
	publisher      broker.Publisher

	now            Clock
	maxAttempts    int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	attemptTimeout time.Duration
	lease          time.Duration
	retention      time.Duration
}

// OutboxOption configures OutboxServiceImpl.
type OutboxOption func(*OutboxServiceImpl)

// WithOutboxClock replaces the wall clock.
func WithOutboxClock(now Clock) OutboxOption {
	return func(s *OutboxServiceImpl) { s.now = now }
}

// WithMaxAttempts sets how many failed deliveries mark an entry failed.
func WithMaxAttempts(n int) OutboxOption {
	return func(s *OutboxServiceImpl) { s.maxAttempts = n }
}

// WithBackoff sets the first retry delay and its cap.
func WithBackoff(base, maxDelay time.Duration) OutboxOption {
	return func(s *OutboxServiceImpl) {
		s.baseBackoff = base
		s.maxBackoff = maxDelay
	}
}

// WithAttemptTimeout bounds a single publish.
func WithAttemptTimeout(d time.Duration) OutboxOption {
	return func(s *OutboxServiceImpl) { s.attemptTimeout = d }
}

// WithLease sets how long a claimed entry stays reserved for its worker.
func WithLease(d time.Duration) OutboxOption {
	return func(s *OutboxServiceImpl) { s.lease = d }
}

// WithRetention sets how long relayed entries are kept.
func WithRetention(d time.Duration) OutboxOption {
	return func(s *OutboxServiceImpl) { s.retention = d }
}

// NewOutboxServiceImpl creates a new OutboxService implementation. publisher may
// be nil in processes that only record changes.
func NewOutboxServiceImpl(
	outboxRepo repository.OutboxRepository,
	transactionMgr repository.TransactionManager,
	publisher broker.Publisher,
	opts ...OutboxOption,
) *OutboxServiceImpl {
	s := &OutboxServiceImpl{
		outboxRepo:     outboxRepo,
		transactionMgr: transactionMgr,
		publisher:      publisher,
		now:            utcNow,
		maxAttempts:    defaultMaxAttempts,
		baseBackoff:    defaultBaseBackoff,
		maxBackoff:     defaultMaxBackoff,
		attemptTimeout: defaultAttemptTimeout,
		lease:          defaultLease,
		retention:      defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RecordChange runs mutate and stores one outbox entry per returned event in a
// single transaction. If anything fails nothing is stored and nothing will be published.
func (s *OutboxServiceImpl) RecordChange(ctx context.Context, mutate Mutation) error {
	ctx, traceID := tracing.Ensure(ctx)

	return s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		events, err := mutate(ctx)
		if err != nil {
			return err
		}

		for _, event := range events {
			if err := s.createOutboxEvent(ctx, event, traceID); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *OutboxServiceImpl) createOutboxEvent(ctx context.Context, event *model.DomainEvent, traceID string) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	eventID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate event id: %w", err)
	}

	created, err := s.outboxRepo.CreateEvent(ctx, &model.CreateOutboxEventParams{
		EventID:    eventID.String(),
		Topic:      event.Topic,
		RoutingKey: event.RoutingKey,
		EventType:  string(event.Action),
		Payload:    payloadJSON,
		TraceID:    traceID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	slog.DebugContext(ctx, "outbox event recorded",
		slog.Int64("outbox_id", created.ID),
		slog.String("event_id", created.EventID),
		slog.String("topic", created.Topic),
		slog.String("routing_key", created.RoutingKey),
	)

	return nil
}

// ProcessUnpublishedEvents processes unpublished outbox events.
func (s *OutboxServiceImpl) ProcessUnpublishedEvents(ctx context.Context, worker string, limit int) (int, error) {
	if s.publisher == nil {
		return 0, ErrNoPublisher
	}

	now := s.now()

	events, err := s.outboxRepo.ClaimEvents(ctx, &model.ClaimOutboxEventsParams{
		Worker:     worker,
		Now:        now,
		LeaseUntil: now.Add(s.lease),
		Limit:      limit,
	})
	if err != nil {
		return 0, err
	}

	relayed := 0

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		if s.relay(ctx, worker, event) {
			relayed++
		}
	}

	return relayed, nil
}

// relay publishes one claimed entry under the trace id it was recorded with.
func (s *OutboxServiceImpl) relay(ctx context.Context, worker string, event *model.OutboxEvent) bool {
	ctx, _ = tracing.Continue(ctx, event.TraceID)

	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	err := s.publisher.Publish(attemptCtx, broker.NewEnvelope(event))
	cancel()

	if err == nil {
		if err := s.outboxRepo.MarkAsRelayed(ctx, event.ID, worker, s.now()); err != nil {
			slog.ErrorContext(ctx, "failed to mark event as relayed",
				slog.Int64("outbox_id", event.ID),
				slog.String("error", err.Error()),
			)

			return false
		}

		slog.InfoContext(ctx, "published event",
			slog.Int64("outbox_id", event.ID),
			slog.String("event_id", event.EventID),
			slog.String("topic", event.Topic),
			slog.String("routing_key", event.RoutingKey),
		)

		return true
	}

	// shutting down; the lease runs out and another worker picks the entry up
	if ctx.Err() != nil {
		return false
	}

	s.recordFailure(ctx, worker, event, err)

	return false
}

func (s *OutboxServiceImpl) recordFailure(ctx context.Context, worker string, event *model.OutboxEvent, cause error) {
	event.Attempts++
	event.LastError = cause.Error()

	if event.Attempts >= s.maxAttempts {
		if err := s.outboxRepo.MarkAsFailed(ctx, event, worker); err != nil {
			slog.ErrorContext(ctx, "failed to mark event as failed",
				slog.Int64("outbox_id", event.ID),
				slog.String("error", err.Error()),
			)

			return
		}

		slog.ErrorContext(ctx, "event delivery gave up, operator action required",
			slog.Int64("outbox_id", event.ID),
			slog.String("event_id", event.EventID),
			slog.Int("attempts", event.Attempts),
			slog.String("error", cause.Error()),
		)

		return
	}

	delay := Backoff(s.baseBackoff, s.maxBackoff, event.Attempts)
	event.NextAttemptAt = s.now().Add(delay)

	if err := s.outboxRepo.ScheduleRetry(ctx, event, worker); err != nil {
		slog.ErrorContext(ctx, "failed to schedule retry",
			slog.Int64("outbox_id", event.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	slog.WarnContext(ctx, "failed to publish event, will retry",
		slog.Int64("outbox_id", event.ID),
		slog.String("event_id", event.EventID),
		slog.Int("attempts", event.Attempts),
		slog.Duration("retry_in", delay),
		slog.String("error", cause.Error()),
	)
}

// Backoff returns base·2^(attempts-1), capped at maxDelay.
func Backoff(base, maxDelay time.Duration, attempts int) time.Duration {
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxDelay || delay <= 0 {
			return maxDelay
		}
	}

	return min(delay, maxDelay)
}

// PurgeRelayed deletes relayed entries older than the retention window.
func (s *OutboxServiceImpl) PurgeRelayed(ctx context.Context) (int64, error) {
	n, err := s.outboxRepo.DeleteRelayedBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge relayed events: %w", err)
	}

	if n > 0 {
		slog.InfoContext(ctx, "purged relayed events", slog.Int64("count", n))
	}

	return n, nil
}

// ListFailed returns entries waiting for an operator.
func (s *OutboxServiceImpl) ListFailed(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return s.outboxRepo.ListByStatus(ctx, model.OutboxStatusFailed, limit)
}

// Retry gives a failed entry a fresh attempt budget.
func (s *OutboxServiceImpl) Retry(ctx context.Context, id int64) error {
	if err := s.outboxRepo.Requeue(ctx, id, s.now()); err != nil {
		return err
	}

	slog.InfoContext(ctx, "failed event requeued", slog.Int64("outbox_id", id))

	return nil
}

// Stats counts entries per relay status.
func (s *OutboxServiceImpl) Stats(ctx context.Context) (map[model.OutboxStatus]int64, error) {
	stats := make(map[model.OutboxStatus]int64, 3)

	for _, status := range []model.OutboxStatus{
		model.OutboxStatusPending, model.OutboxStatusRelayed, model.OutboxStatusFailed,
	} {
		n, err := s.outboxRepo.CountByStatus(ctx, status)
		if err != nil {
			return nil, err
		}

		stats[status] = n
	}

	return stats, nil
}
