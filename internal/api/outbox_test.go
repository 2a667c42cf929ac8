package api_test

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/traceable-outbox/internal/model"
)

type failedEvent struct {
	ID         int64          `json:"id"`
	EventType  string         `json:"event_type"`
	RoutingKey string         `json:"routing_key"`
	Payload    map[string]any `json:"payload"`
	TraceID    string         `json:"trace_id"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error"`
}

func TestFailedEventsCanBeRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/users", aliceJSON).Code)

	// the publisher is down and one attempt is allowed
	relayed, err := f.outbox.ProcessUnpublishedEvents(context.Background(), "relay-1", 10)
	require.NoError(t, err)
	require.Zero(t, relayed)

	rec := f.do(t, http.MethodGet, "/admin/outbox/failed", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	failed := decode[envelope[[]failedEvent]](t, rec).Data
	require.Len(t, failed, 1)
	assert.Equal(t, string(model.EventActionUserCreated), failed[0].EventType)
	assert.Equal(t, traceID, failed[0].TraceID)
	assert.Equal(t, 1, failed[0].Attempts)
	assert.Equal(t, "broker down", failed[0].LastError)
	assert.Equal(t, "alice", failed[0].Payload["username"])

	retryPath := "/admin/outbox/" + strconv.FormatInt(failed[0].ID, 10) + "/retry"

	rec = f.do(t, http.MethodPost, retryPath, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// only failed entries can be retried
	rec = f.do(t, http.MethodPost, retryPath, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/outbox/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[envelope[map[string]int64]](t, rec).Data
	assert.Equal(t, int64(1), stats["pending"])
	assert.Equal(t, int64(0), stats["failed"])
	assert.Equal(t, int64(0), stats["relayed"])
}

func TestAdminOutboxErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{name: "retry unknown entry", method: http.MethodPost, target: "/admin/outbox/99/retry", status: http.StatusNotFound},
		{name: "retry bad id", method: http.MethodPost, target: "/admin/outbox/x/retry", status: http.StatusBadRequest},
		{name: "limit too large", method: http.MethodGet, target: "/admin/outbox/failed?limit=5000", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(t, http.MethodGet, "/admin/outbox/failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}
