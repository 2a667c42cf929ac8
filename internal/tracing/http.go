package tracing

import (
	"log/slog"
	"net/http"
)

// Middleware resolves the trace id of every inbound request, binds it to the
// request context and echoes it on the response before the handler runs.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := Continue(r.Context(), r.Header.Get(Header))

		w.Header().Set(Header, id)
		slog.DebugContext(ctx, "request received",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Transport copies the trace id bound to the outgoing request context into the
// request header.
type Transport struct {
	Base http.RoundTripper
}

// NewTransport wraps base, falling back to http.DefaultTransport.
func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	id, ok := FromContext(r.Context())
	if !ok || r.Header.Get(Header) != "" {
		return t.Base.RoundTrip(r)
	}

	out := r.Clone(r.Context())
	out.Header.Set(Header, id)

	return t.Base.RoundTrip(out)
}
