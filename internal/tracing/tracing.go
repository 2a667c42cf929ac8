// Package tracing binds a correlation identifier to a logical operation.
//
// The identifier lives in context.Context, never in goroutine or global state, so
// it ends with the operation that created the context. Work that leaves the
// calling context (outbox entries, broker messages) carries the identifier as a
// plain field and re-binds it with Continue when it starts executing.
package tracing

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the request and response attribute that carries the trace id.
const Header = "X-Trace-Id"

type traceIDKey struct{}

// NewID returns a fresh 128-bit random trace id as 32 hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithID returns a copy of ctx bound to id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// FromContext returns the trace id bound to ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey{}).(string)
	if !ok || id == "" {
		return "", false
	}

	return id, true
}

// ID returns the trace id bound to ctx or an empty string.
func ID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id
}

// Ensure keeps an id already bound to ctx and binds a new one otherwise.
// Nested operations therefore share the outermost id.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}

	id := NewID()

	return WithID(ctx, id), id
}

// Continue binds the id carried by an asynchronous work item exactly as carried.
// An empty or whitespace-only id starts a new trace.
func Continue(ctx context.Context, carried string) (context.Context, string) {
	if strings.TrimSpace(carried) != "" {
		return WithID(ctx, carried), carried
	}

	id := NewID()

	return WithID(ctx, id), id
}
