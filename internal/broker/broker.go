// Package broker moves outbox events between services. An Envelope is the
// unit on the wire; Publisher and Subscriber are implemented over Redis
// Streams, RabbitMQ and an in-process bus.
//
// Delivery is at-least-once. A Handler that returns an error leaves the
// message unacknowledged so the broker delivers it again.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jnst/traceable-outbox/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedMessage is returned when a message does not carry a decodable envelope.
var ErrMalformedMessage = errors.New("malformed message")

// Envelope is an outbox event as it travels through the broker.
type Envelope struct {
	EventID    string              `json:"event_id"`
	Topic      string              `json:"topic"`
	RoutingKey string              `json:"routing_key"`
	EventType  string              `json:"event_type"`
	TraceID    string              `json:"trace_id,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
	Payload    jsoniter.RawMessage `json:"payload"`
}

// NewEnvelope wraps a stored outbox event.
func NewEnvelope(event *model.OutboxEvent) *Envelope {
	return &Envelope{
		EventID:    event.EventID,
		Topic:      event.Topic,
		RoutingKey: event.RoutingKey,
		EventType:  event.EventType,
		TraceID:    event.TraceID,
		OccurredAt: event.CreatedAt,
		Payload:    event.Payload,
	}
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the domain event body into v.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrMalformedMessage, e.EventType, err)
	}

	return nil
}

// UnmarshalEnvelope decodes data and checks the fields consumers rely on.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	if env.EventID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_id or event_type", ErrMalformedMessage)
	}

	return &env, nil
}

// Handler processes one delivered envelope.
type Handler func(ctx context.Context, env *Envelope) error

// Publisher delivers envelopes to the broker. Publish returns only after the
// broker accepted the message.
type Publisher interface {
	Publish(ctx context.Context, env *Envelope) error
}

// Subscriber feeds envelopes of the given topics to handler until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, topics []string, handler Handler) error
}
