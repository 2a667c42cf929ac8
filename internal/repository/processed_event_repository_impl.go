package repository

import (
	"context"
	"time"

	"github.com/jnst/traceable-outbox/internal/db"
)

// ProcessedEventRepositoryImpl implements ProcessedEventRepository.
type ProcessedEventRepositoryImpl struct {
	db *db.Queries
}

// NewProcessedEventRepositoryImpl creates a new ProcessedEventRepository implementation.
func NewProcessedEventRepositoryImpl(pool db.DBTX) ProcessedEventRepository {
	return &ProcessedEventRepositoryImpl{db: db.New(pool)}
}

// MarkProcessed inserts the marker unless it exists. Inside a transaction the
// insert also takes the row lock, so a concurrent duplicate waits and then sees false.
func (r *ProcessedEventRepositoryImpl) MarkProcessed(
	ctx context.Context, consumer, eventID, eventType string, now time.Time,
) (bool, error) {
	n, err := r.db.Conn(ctx).InsertProcessedEvent(ctx, &db.InsertProcessedEventParams{
		Consumer:    consumer,
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: now,
	})
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// Count returns how many events consumer has applied.
func (r *ProcessedEventRepositoryImpl) Count(ctx context.Context, consumer string) (int64, error) {
	return r.db.Conn(ctx).CountProcessedEvents(ctx, consumer)
}
