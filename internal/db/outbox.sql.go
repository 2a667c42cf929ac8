package db

import (
	"context"
	"time"
)

const outboxColumns = `id, event_id, topic, routing_key, event_type, payload, trace_id, status, attempts,
next_attempt_at, locked_by, locked_until, last_error, created_at, relayed_at`

func scanOutboxEvent(row Row) (OutboxEvent, error) {
	var e OutboxEvent
	err := row.Scan(&e.ID, &e.EventID, &e.Topic, &e.RoutingKey, &e.EventType, &e.Payload, &e.TraceID, &e.Status,
		&e.Attempts, &e.NextAttemptAt, &e.LockedBy, &e.LockedUntil, &e.LastError, &e.CreatedAt, &e.RelayedAt)

	return e, err
}

func collectOutboxEvents(rows Rows, err error) ([]OutboxEvent, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}

	return items, rows.Err()
}

const createOutboxEvent = `
INSERT INTO outbox_events (event_id, topic, routing_key, event_type, payload, trace_id, status, next_attempt_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $7)
RETURNING ` + outboxColumns

type CreateOutboxEventParams struct {
	EventID    string
	Topic      string
	RoutingKey string
	EventType  string
	Payload    []byte
	TraceID    string
	CreatedAt  time.Time
}

func (q *Queries) CreateOutboxEvent(ctx context.Context, arg *CreateOutboxEventParams) (OutboxEvent, error) {
	return scanOutboxEvent(q.db.QueryRow(ctx, createOutboxEvent,
		arg.EventID, arg.Topic, arg.RoutingKey, arg.EventType, arg.Payload, arg.TraceID, arg.CreatedAt))
}

const getOutboxEvent = `SELECT ` + outboxColumns + ` FROM outbox_events WHERE id = $1`

func (q *Queries) GetOutboxEvent(ctx context.Context, id int64) (OutboxEvent, error) {
	return scanOutboxEvent(q.db.QueryRow(ctx, getOutboxEvent, id))
}

// Only the oldest unrelayed entry of each (topic, routing_key) is claimable, so
// entries for one aggregate leave in the order they were written. The outer
// lease predicate is re-checked against the locked row, which keeps two
// concurrent claimers from taking the same entry.
const claimOutboxEvents = `
UPDATE outbox_events
SET locked_by = $1, locked_until = $2
WHERE id IN (
    SELECT o.id FROM outbox_events o
    WHERE o.status = 'pending'
      AND o.next_attempt_at <= $3
      AND (o.locked_until IS NULL OR o.locked_until < $3)
      AND NOT EXISTS (
          SELECT 1 FROM outbox_events p
          WHERE p.topic = o.topic
            AND p.routing_key = o.routing_key
            AND p.status IN ('pending', 'failed')
            AND p.id < o.id
      )
    ORDER BY o.id
    LIMIT $4
)
AND status = 'pending'
AND (locked_until IS NULL OR locked_until < $3)
RETURNING ` + outboxColumns

type ClaimOutboxEventsParams struct {
	Worker     string
	LeaseUntil time.Time
	Now        time.Time
	Limit      int
}

func (q *Queries) ClaimOutboxEvents(ctx context.Context, arg *ClaimOutboxEventsParams) ([]OutboxEvent, error) {
	return collectOutboxEvents(q.db.Query(ctx, claimOutboxEvents, arg.Worker, arg.LeaseUntil, arg.Now, arg.Limit))
}

const markEventAsRelayed = `
UPDATE outbox_events
SET status = 'relayed', relayed_at = $2, attempts = attempts + 1, last_error = '', locked_by = '', locked_until = NULL
WHERE id = $1 AND locked_by = $3 AND status = 'pending'`

func (q *Queries) MarkEventAsRelayed(ctx context.Context, id int64, relayedAt time.Time, worker string) (int64, error) {
	return q.db.Exec(ctx, markEventAsRelayed, id, relayedAt, worker)
}

const scheduleEventRetry = `
UPDATE outbox_events
SET attempts = $2, next_attempt_at = $3, last_error = $4, locked_by = '', locked_until = NULL
WHERE id = $1 AND locked_by = $5 AND status = 'pending'`

type ScheduleEventRetryParams struct {
	ID            int64
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	Worker        string
}

func (q *Queries) ScheduleEventRetry(ctx context.Context, arg *ScheduleEventRetryParams) (int64, error) {
	return q.db.Exec(ctx, scheduleEventRetry, arg.ID, arg.Attempts, arg.NextAttemptAt, arg.LastError, arg.Worker)
}

const markEventAsFailed = `
UPDATE outbox_events
SET status = 'failed', attempts = $2, last_error = $3, locked_by = '', locked_until = NULL
WHERE id = $1 AND locked_by = $4 AND status = 'pending'`

type MarkEventAsFailedParams struct {
	ID        int64
	Attempts  int
	LastError string
	Worker    string
}

func (q *Queries) MarkEventAsFailed(ctx context.Context, arg *MarkEventAsFailedParams) (int64, error) {
	return q.db.Exec(ctx, markEventAsFailed, arg.ID, arg.Attempts, arg.LastError, arg.Worker)
}

const listOutboxEventsByStatus = `
SELECT ` + outboxColumns + ` FROM outbox_events
WHERE status = $1
ORDER BY id
LIMIT $2`

func (q *Queries) ListOutboxEventsByStatus(ctx context.Context, status string, limit int) ([]OutboxEvent, error) {
	return collectOutboxEvents(q.db.Query(ctx, listOutboxEventsByStatus, status, limit))
}

const countOutboxEventsByStatus = `SELECT COUNT(*) FROM outbox_events WHERE status = $1`

func (q *Queries) CountOutboxEventsByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countOutboxEventsByStatus, status).Scan(&n)

	return n, err
}

const requeueFailedEvent = `
UPDATE outbox_events
SET status = 'pending', attempts = 0, next_attempt_at = $2, last_error = '', locked_by = '', locked_until = NULL
WHERE id = $1 AND status = 'failed'`

func (q *Queries) RequeueFailedEvent(ctx context.Context, id int64, now time.Time) (int64, error) {
	return q.db.Exec(ctx, requeueFailedEvent, id, now)
}

const deleteRelayedEventsBefore = `DELETE FROM outbox_events WHERE status = 'relayed' AND relayed_at < $1`

func (q *Queries) DeleteRelayedEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	return q.db.Exec(ctx, deleteRelayedEventsBefore, before)
}
