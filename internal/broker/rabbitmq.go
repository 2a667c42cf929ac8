package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

const (
	contentTypeJSON  = "application/json"
	routingKeyHeader = "routing_key"
	exchangeKind     = "fanout"
)

// ErrPublishNacked is returned when the broker refuses a published message.
var ErrPublishNacked = errors.New("publish not confirmed by broker")

// RabbitMQ publishes each topic to a durable fanout exchange of the same name.
// Every consumer group reads its own durable queue "<group>.<topic>" bound to it.
// A closed connection or publishing channel is re-established on the next
// Publish or Subscribe.
type RabbitMQ struct {
	url      string
	dial     func(url string) (*amqp.Connection, error)
	group    string
	consumer string

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// RabbitMQOption configures RabbitMQ.
type RabbitMQOption func(*RabbitMQ)

// WithRabbitMQConsumer sets the consumer group (queue prefix) and consumer tag.
func WithRabbitMQConsumer(group, consumer string) RabbitMQOption {
	return func(r *RabbitMQ) {
		r.group = group
		r.consumer = consumer
	}
}

// NewRabbitMQ connects to url and opens a publishing channel in confirm mode.
func NewRabbitMQ(url string, opts ...RabbitMQOption) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:      url,
		dial:     amqp.Dial,
		declared: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.publishChannel(); err != nil {
		return nil, err
	}

	return r, nil
}

// connection returns the live connection, dialing again when it was closed.
// The caller holds r.mu.
func (r *RabbitMQ) connection() (*amqp.Connection, error) {
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	conn, err := r.dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	go watchClose("connection", conn.NotifyClose(make(chan *amqp.Error, 1)))

	r.conn = conn
	r.channel = nil

	return conn, nil
}

// publishChannel returns the confirm-mode publishing channel, reopening it
// (and the connection under it) when it was closed. The caller holds r.mu.
func (r *RabbitMQ) publishChannel() (*amqp.Channel, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}

	if r.channel != nil && !r.channel.IsClosed() {
		return r.channel, nil
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	go watchClose("channel", ch.NotifyClose(make(chan *amqp.Error, 1)))

	r.channel = ch
	// exchanges are redeclared on the new channel
	clear(r.declared)

	return ch, nil
}

func watchClose(what string, closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}

	slog.Warn("rabbitmq "+what+" closed, reopening on next use",
		slog.Int("code", amqpErr.Code),
		slog.String("reason", amqpErr.Reason),
	)
}

// Publish sends the envelope to the topic exchange and waits for the broker's confirm.
func (r *RabbitMQ) Publish(ctx context.Context, env *Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.publishChannel()
	if err != nil {
		return err
	}

	if !r.declared[env.Topic] {
		if err := declareExchange(ch, env.Topic); err != nil {
			return err
		}

		r.declared[env.Topic] = true
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		env.Topic, // exchange
		env.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:     env.EventID,
			CorrelationId: env.TraceID,
			Type:          env.EventType,
			Timestamp:     env.OccurredAt,
			ContentType:   contentTypeJSON,
			DeliveryMode:  amqp.Persistent,
			Headers:       amqp.Table{routingKeyHeader: env.RoutingKey},
			Body:          data,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for publisher confirm: %w", err)
	}

	if !acked {
		return fmt.Errorf("%w: event %s", ErrPublishNacked, env.EventID)
	}

	return nil
}

// Subscribe consumes the group's queue of every topic with manual acks. A
// failed handler nacks with requeue.
func (r *RabbitMQ) Subscribe(ctx context.Context, topics []string, handler Handler) error {
	if r.group == "" {
		return errors.New("rabbitmq subscriber needs a consumer group")
	}

	r.mu.Lock()
	conn, err := r.connection()
	r.mu.Unlock()

	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	// one unacked message per queue keeps deliveries of a key in order
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, topic := range topics {
		deliveries, err := r.bindQueue(ch, topic)
		if err != nil {
			return err
		}

		g.Go(func() error {
			return r.runConsumerLoop(ctx, topic, deliveries, handler)
		})
	}

	slog.InfoContext(ctx, "subscribed to rabbitmq queues",
		slog.Any("topics", topics),
		slog.String("group", r.group),
	)

	return g.Wait()
}

func (r *RabbitMQ) bindQueue(ch *amqp.Channel, topic string) (<-chan amqp.Delivery, error) {
	if err := declareExchange(ch, topic); err != nil {
		return nil, err
	}

	queue, err := ch.QueueDeclare(
		r.group+"."+topic, // name
		true,              // durable
		false,             // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, "", topic, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue.Name, err)
	}

	deliveries, err := ch.Consume(
		queue.Name, // queue
		r.consumer, // consumer
		false,      // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	return deliveries, nil
}

func (*RabbitMQ) runConsumerLoop(
	ctx context.Context, topic string, deliveries <-chan amqp.Delivery, handler Handler,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", topic)
			}

			processDelivery(ctx, &d, handler)
		}
	}
}

func processDelivery(ctx context.Context, d *amqp.Delivery, handler Handler) {
	env, err := UnmarshalEnvelope(d.Body)
	if err != nil {
		slog.ErrorContext(ctx, "dropping malformed message",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
		_ = d.Nack(false, false)

		return
	}

	if err := handler(ctx, env); err != nil {
		slog.ErrorContext(ctx, "failed to process message",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
		_ = d.Nack(false, true)

		return
	}

	if err := d.Ack(false); err != nil {
		slog.ErrorContext(ctx, "failed to ACK message",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
	}
}

func declareExchange(ch *amqp.Channel, topic string) error {
	err := ch.ExchangeDeclare(
		topic,        // name
		exchangeKind, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", topic, err)
	}

	return nil
}

// Close closes the channel and the connection.
func (r *RabbitMQ) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		_ = r.channel.Close()
	}

	if r.conn != nil {
		_ = r.conn.Close()
	}
}
