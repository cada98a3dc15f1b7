package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/labcontrol/labcontrol/pkg/contextkeys"
)

// RequestIDHeader carries the request ID to clients and between services.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request an ID, honoring one supplied by a trusted
// upstream, and reflects it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := contextkeys.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
