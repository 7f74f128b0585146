package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const clientIDKey contextKey = 0

// WithClientID stores the verified caller's client ID on ctx.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext returns the caller's client ID, if the request went
// through Middleware and carried a valid token.
func ClientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey).(string)
	return id, ok
}

// Middleware verifies a bearer token on every request when service is
// enabled. With a nil or disabled service it is a no-op, so the
// orchestrator runs unauthenticated unless a secret is configured.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			token := strings.TrimSpace(header[len("bearer "):])
			clientID, err := service.Verify(token)
			if err != nil {
				if logger != nil {
					logger.Warn("rejected request with invalid token", "error", err)
				}
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
		})
	}
}
