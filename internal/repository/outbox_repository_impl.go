package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jnst/traceable-outbox/internal/db"
	"github.com/jnst/traceable-outbox/internal/model"
)

// OutboxRepositoryImpl implements OutboxRepository.
type OutboxRepositoryImpl struct {
	db *db.Queries
}

// NewOutboxRepositoryImpl creates a new OutboxRepository implementation.
func NewOutboxRepositoryImpl(pool db.DBTX) OutboxRepository {
	return &OutboxRepositoryImpl{db: db.New(pool)}
}

// CreateEvent creates a new pending outbox event due immediately.
func (r *OutboxRepositoryImpl) CreateEvent(
	ctx context.Context, params *model.CreateOutboxEventParams,
) (*model.OutboxEvent, error) {
	dbEvent, err := r.db.Conn(ctx).CreateOutboxEvent(ctx, &db.CreateOutboxEventParams{
		EventID:    params.EventID,
		Topic:      params.Topic,
		RoutingKey: params.RoutingKey,
		EventType:  params.EventType,
		Payload:    params.Payload,
		TraceID:    params.TraceID,
		CreatedAt:  params.CreatedAt,
	})
	if errors.Is(err, db.ErrUniqueViolation) {
		return nil, fmt.Errorf("%w: event id %s already recorded", model.ErrPersistenceConflict, params.EventID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return toOutboxEvent(&dbEvent), nil
}

// GetByID retrieves an outbox event.
func (r *OutboxRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.OutboxEvent, error) {
	dbEvent, err := r.db.Conn(ctx).GetOutboxEvent(ctx, id)
	if err != nil {
		return nil, notFound(err, model.ErrOutboxEventNotFound)
	}

	return toOutboxEvent(&dbEvent), nil
}

// ClaimEvents leases up to params.Limit due entries to params.Worker, oldest first.
func (r *OutboxRepositoryImpl) ClaimEvents(
	ctx context.Context, params *model.ClaimOutboxEventsParams,
) ([]*model.OutboxEvent, error) {
	dbEvents, err := r.db.Conn(ctx).ClaimOutboxEvents(ctx, &db.ClaimOutboxEventsParams{
		Worker:     params.Worker,
		LeaseUntil: params.LeaseUntil,
		Now:        params.Now,
		Limit:      params.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}

	// RETURNING does not promise any order
	slices.SortFunc(dbEvents, func(a, b db.OutboxEvent) int { return cmp.Compare(a.ID, b.ID) })

	return toOutboxEvents(dbEvents), nil
}

// MarkAsRelayed records a confirmed delivery. It fails with ErrLeaseLost when
// worker no longer holds the entry.
func (r *OutboxRepositoryImpl) MarkAsRelayed(ctx context.Context, id int64, worker string, now time.Time) error {
	n, err := r.db.Conn(ctx).MarkEventAsRelayed(ctx, id, now, worker)
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: event %d", ErrLeaseLost, id)
	}

	return nil
}

// ScheduleRetry releases the lease and stores event.Attempts, NextAttemptAt and LastError.
func (r *OutboxRepositoryImpl) ScheduleRetry(ctx context.Context, event *model.OutboxEvent, worker string) error {
	n, err := r.db.Conn(ctx).ScheduleEventRetry(ctx, &db.ScheduleEventRetryParams{
		ID:            event.ID,
		Attempts:      event.Attempts,
		NextAttemptAt: event.NextAttemptAt,
		LastError:     event.LastError,
		Worker:        worker,
	})
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: event %d", ErrLeaseLost, event.ID)
	}

	return nil
}

// MarkAsFailed parks the entry for operator attention.
func (r *OutboxRepositoryImpl) MarkAsFailed(ctx context.Context, event *model.OutboxEvent, worker string) error {
	n, err := r.db.Conn(ctx).MarkEventAsFailed(ctx, &db.MarkEventAsFailedParams{
		ID:        event.ID,
		Attempts:  event.Attempts,
		LastError: event.LastError,
		Worker:    worker,
	})
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: event %d", ErrLeaseLost, event.ID)
	}

	return nil
}

// ListByStatus returns up to limit entries with status, oldest first.
func (r *OutboxRepositoryImpl) ListByStatus(
	ctx context.Context, status model.OutboxStatus, limit int,
) ([]*model.OutboxEvent, error) {
	dbEvents, err := r.db.Conn(ctx).ListOutboxEventsByStatus(ctx, string(status), limit)
	if err != nil {
		return nil, err
	}

	return toOutboxEvents(dbEvents), nil
}

// CountByStatus returns the number of entries with status.
func (r *OutboxRepositoryImpl) CountByStatus(ctx context.Context, status model.OutboxStatus) (int64, error) {
	return r.db.Conn(ctx).CountOutboxEventsByStatus(ctx, string(status))
}

// Requeue turns a failed entry back into a pending one with a fresh attempt budget.
func (r *OutboxRepositoryImpl) Requeue(ctx context.Context, id int64, now time.Time) error {
	q := r.db.Conn(ctx)

	n, err := q.RequeueFailedEvent(ctx, id, now)
	if err != nil {
		return err
	}

	if n == 1 {
		return nil
	}

	event, err := q.GetOutboxEvent(ctx, id)
	if err != nil {
		return notFound(err, model.ErrOutboxEventNotFound)
	}

	return fmt.Errorf("%w: outbox event %d is %s, only failed events can be retried",
		model.ErrInvalidTransition, id, event.Status)
}

// DeleteRelayedBefore removes relayed entries whose delivery is older than before.
func (r *OutboxRepositoryImpl) DeleteRelayedBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.db.Conn(ctx).DeleteRelayedEventsBefore(ctx, before)
}

func toOutboxEvents(dbEvents []db.OutboxEvent) []*model.OutboxEvent {
	events := make([]*model.OutboxEvent, len(dbEvents))
	for i := range dbEvents {
		events[i] = toOutboxEvent(&dbEvents[i])
	}

	return events
}

func toOutboxEvent(e *db.OutboxEvent) *model.OutboxEvent {
	var relayedAt *time.Time
	if e.RelayedAt != nil {
		t := e.RelayedAt.UTC()
		relayedAt = &t
	}

	return &model.OutboxEvent{
		ID:            e.ID,
		EventID:       e.EventID,
		Topic:         e.Topic,
		RoutingKey:    e.RoutingKey,
		EventType:     e.EventType,
		Payload:       e.Payload,
		TraceID:       e.TraceID,
		Status:        model.OutboxStatus(e.Status),
		Attempts:      e.Attempts,
		NextAttemptAt: e.NextAttemptAt.UTC(),
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt.UTC(),
		RelayedAt:     relayedAt,
	}
}
