package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/rueidis"
)

const (
	streamKeyPrefix = "events:"
	envelopeField   = "envelope"

	defaultRedisBlock = time.Second
	defaultRedisCount = 10
	errorRetryDelay   = time.Second
)

// StreamKey returns the Redis stream that carries topic.
func StreamKey(topic string) string {
	return streamKeyPrefix + topic
}

// RedisStreams publishes with XADD and consumes through a consumer group.
type RedisStreams struct {
	client   rueidis.Client
	group    string
	consumer string
	block    time.Duration
	count    int64
}

// RedisOption configures RedisStreams.
type RedisOption func(*RedisStreams)

// WithRedisConsumer sets the consumer group and the consumer name within it.
func WithRedisConsumer(group, consumer string) RedisOption {
	return func(r *RedisStreams) {
		r.group = group
		r.consumer = consumer
	}
}

// WithRedisBlock sets how long one XREADGROUP waits for new entries.
func WithRedisBlock(block time.Duration) RedisOption {
	return func(r *RedisStreams) {
		if block > 0 {
			r.block = block
		}
	}
}

// NewRedisStreams returns a broker over client.
func NewRedisStreams(client rueidis.Client, opts ...RedisOption) *RedisStreams {
	r := &RedisStreams{
		client: client,
		block:  defaultRedisBlock,
		count:  defaultRedisCount,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Publish appends the envelope to the topic's stream.
func (r *RedisStreams) Publish(ctx context.Context, env *Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	cmd := r.client.B().Xadd().Key(StreamKey(env.Topic)).Id("*").
		FieldValue().
		FieldValue("event_id", env.EventID).
		FieldValue("event_type", env.EventType).
		FieldValue("routing_key", env.RoutingKey).
		FieldValue("trace_id", env.TraceID).
		FieldValue(envelopeField, string(data)).
		Build()

	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to XADD to %s: %w", StreamKey(env.Topic), err)
	}

	return nil
}

// Subscribe reads the topics' streams as a member of the consumer group. Entries
// whose handler fails stay pending and are read again before new entries.
func (r *RedisStreams) Subscribe(ctx context.Context, topics []string, handler Handler) error {
	if r.group == "" || r.consumer == "" {
		return errors.New("redis subscriber needs a consumer group and name")
	}

	keys := make([]string, len(topics))
	for i, topic := range topics {
		keys[i] = StreamKey(topic)
		if err := r.createConsumerGroup(ctx, keys[i]); err != nil {
			return err
		}
	}

	slog.InfoContext(ctx, "subscribed to redis streams",
		slog.Any("streams", keys),
		slog.String("group", r.group),
		slog.String("consumer", r.consumer),
	)

	for ctx.Err() == nil {
		if err := r.consume(ctx, keys, handler); err != nil {
			if ctx.Err() != nil {
				break
			}

			slog.ErrorContext(ctx, "error consuming messages", slog.String("error", err.Error()))
			sleep(ctx, errorRetryDelay)
		}
	}

	slog.InfoContext(ctx, "redis subscriber stopped")

	return nil
}

func (r *RedisStreams) createConsumerGroup(ctx context.Context, key string) error {
	cmd := r.client.B().XgroupCreate().Key(key).Group(r.group).Id("0").Mkstream().Build()

	err := r.client.Do(ctx, cmd).Error()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", r.group, key, err)
	}

	return nil
}

// consume first replays this consumer's pending entries, then blocks for new ones.
func (r *RedisStreams) consume(ctx context.Context, keys []string, handler Handler) error {
	streams, err := r.readMessages(ctx, keys, "0", 0)
	if err != nil {
		return err
	}

	if countEntries(streams) == 0 {
		streams, err = r.readMessages(ctx, keys, ">", r.block)
		if err != nil {
			return err
		}
	}

	failed := false
	for key, entries := range streams {
		if !r.processStreamMessages(ctx, key, entries, handler) {
			failed = true
		}
	}

	if failed {
		sleep(ctx, errorRetryDelay)
	}

	return nil
}

func (r *RedisStreams) readMessages(
	ctx context.Context, keys []string, id string, block time.Duration,
) (map[string][]rueidis.XRangeEntry, error) {
	ids := make([]string, len(keys))
	for i := range ids {
		ids[i] = id
	}

	var cmd rueidis.Completed
	if block > 0 {
		cmd = r.client.B().Xreadgroup().Group(r.group, r.consumer).
			Count(r.count).
			Block(block.Milliseconds()).
			Streams().
			Key(keys...).
			Id(ids...).
			Build()
	} else {
		cmd = r.client.B().Xreadgroup().Group(r.group, r.consumer).
			Count(r.count).
			Streams().
			Key(keys...).
			Id(ids...).
			Build()
	}

	result := r.client.Do(ctx, cmd)
	if err := result.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		return nil, err
	}

	return result.AsXRead()
}

// processStreamMessages handles entries in stream order and stops at the first
// failure, so later entries of the stream are not applied ahead of it.
func (r *RedisStreams) processStreamMessages(
	ctx context.Context, key string, entries []rueidis.XRangeEntry, handler Handler,
) bool {
	for _, entry := range entries {
		if err := r.processMessage(ctx, entry, handler); err != nil {
			slog.ErrorContext(ctx, "failed to process message",
				slog.String("stream", key),
				slog.String("message_id", entry.ID),
				slog.String("error", err.Error()),
			)

			return false
		}

		r.acknowledgeMessage(ctx, key, entry.ID)
	}

	return true
}

func (*RedisStreams) processMessage(ctx context.Context, entry rueidis.XRangeEntry, handler Handler) error {
	data, ok := entry.FieldValues[envelopeField]
	if !ok {
		// trimmed from the stream while pending, or written by someone else
		slog.WarnContext(ctx, "dropping stream entry without envelope", slog.String("message_id", entry.ID))
		return nil
	}

	env, err := UnmarshalEnvelope([]byte(data))
	if err != nil {
		slog.ErrorContext(ctx, "dropping malformed message",
			slog.String("message_id", entry.ID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return handler(ctx, env)
}

func (r *RedisStreams) acknowledgeMessage(ctx context.Context, key, messageID string) {
	cmd := r.client.B().Xack().Key(key).Group(r.group).Id(messageID).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		slog.ErrorContext(ctx, "failed to ACK message",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
	} else {
		slog.DebugContext(ctx, "ACKed message", slog.String("message_id", messageID))
	}
}

func countEntries(streams map[string][]rueidis.XRangeEntry) int {
	n := 0
	for _, entries := range streams {
		n += len(entries)
	}

	return n
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
