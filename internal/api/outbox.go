package api

import (
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jnst/traceable-outbox/internal/model"
)

// outboxEventView renders the stored payload as JSON instead of base64.
type outboxEventView struct {
	ID            int64               `json:"id"`
	EventID       string              `json:"event_id"`
	Topic         string              `json:"topic"`
	RoutingKey    string              `json:"routing_key"`
	EventType     string              `json:"event_type"`
	Payload       jsoniter.RawMessage `json:"payload"`
	TraceID       string              `json:"trace_id"`
	Status        model.OutboxStatus  `json:"status"`
	Attempts      int                 `json:"attempts"`
	NextAttemptAt time.Time           `json:"next_attempt_at"`
	LastError     string              `json:"last_error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func newOutboxEventView(e *model.OutboxEvent) outboxEventView {
	return outboxEventView{
		ID:            e.ID,
		EventID:       e.EventID,
		Topic:         e.Topic,
		RoutingKey:    e.RoutingKey,
		EventType:     e.EventType,
		Payload:       jsoniter.RawMessage(e.Payload),
		TraceID:       e.TraceID,
		Status:        e.Status,
		Attempts:      e.Attempts,
		NextAttemptAt: e.NextAttemptAt,
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt,
	}
}

// ListFailedEvents handles GET /admin/outbox/failed?limit=N.
func (s *APIServer) ListFailedEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxFailedLimit {
			s.writeError(w, r, invalidParam("limit", "limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	events, err := s.outbox.ListFailed(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]outboxEventView, len(events))
	for i, e := range events {
		views[i] = newOutboxEventView(e)
	}

	s.writeSuccess(w, r, http.StatusOK, successMessage, views)
}

// RetryEvent handles POST /admin/outbox/{id}/retry. Only failed entries can be retried.
func (s *APIServer) RetryEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.outbox.Retry(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, r, http.StatusOK, "outbox event requeued", map[string]int64{"id": id})
}

// OutboxStats handles GET /admin/outbox/stats.
func (s *APIServer) OutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.outbox.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, r, http.StatusOK, successMessage, stats)
}
