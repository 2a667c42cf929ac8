package db

import (
	"context"
	"time"
)

const insertProcessedEvent = `
INSERT INTO processed_events (consumer, event_id, event_type, processed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (consumer, event_id) DO NOTHING`

type InsertProcessedEventParams struct {
	Consumer    string
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// InsertProcessedEvent returns 0 when the marker already exists.
func (q *Queries) InsertProcessedEvent(ctx context.Context, arg *InsertProcessedEventParams) (int64, error) {
	return q.db.Exec(ctx, insertProcessedEvent, arg.Consumer, arg.EventID, arg.EventType, arg.ProcessedAt)
}

const countProcessedEvents = `SELECT COUNT(*) FROM processed_events WHERE consumer = $1`

func (q *Queries) CountProcessedEvents(ctx context.Context, consumer string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countProcessedEvents, consumer).Scan(&n)

	return n, err
}
