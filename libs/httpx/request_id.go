package httpx

import (
	"context"
	"net/http"

	"github.com/md-rashed-zaman/slotbook/libs/runtime"
)

const RequestIDHeader = "X-Request-Id"

func RequestIDFromContext(ctx context.Context) string {
	return runtime.RequestIDFromContext(ctx)
}

// WithRequestID echoes a usable caller id or a fresh one in the response and
// stores it on the request context for loggers and spans.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := runtime.AcceptRequestID(r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(runtime.WithRequestID(r.Context(), id)))
	})
}
