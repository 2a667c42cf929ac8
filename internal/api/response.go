package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/tracing"
)

const (
	successMessage       = "success"
	internalErrorMessage = "internal server error, please retry later"
)

// Response wraps every successful result.
type Response struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"traceId,omitempty"`
}

// ErrorResponse is returned for every rejected request.
type ErrorResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Status    int               `json:"status"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	TraceID   string            `json:"traceId,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func invalidParam(field, message string) error {
	verr := model.NewValidationError()
	verr.Add(field, message)

	return verr
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *APIServer) writeSuccess(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	writeJSON(r.Context(), w, status, &Response{
		Code:      status,
		Message:   message,
		Data:      data,
		Timestamp: s.now(),
		TraceID:   tracing.ID(r.Context()),
	})
}

func (s *APIServer) writeStatus(
	w http.ResponseWriter, r *http.Request, status int, message string, fields map[string]string,
) {
	writeJSON(r.Context(), w, status, &ErrorResponse{
		Timestamp: s.now(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		TraceID:   tracing.ID(r.Context()),
		Errors:    fields,
	})
}

// writeError maps domain error kinds to statuses. Anything unrecognised is
// logged and answered with an opaque 500.
func (s *APIServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError

	switch {
	case errors.As(err, &verr):
		s.writeStatus(w, r, http.StatusBadRequest, model.ErrValidationFailed.Error(), verr.Fields)
	case errors.Is(err, model.ErrNotFound):
		s.writeStatus(w, r, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrPersistenceConflict):
		s.writeStatus(w, r, http.StatusConflict, err.Error(), nil)
	default:
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		s.writeStatus(w, r, http.StatusInternalServerError, internalErrorMessage, nil)
	}
}
