package auth

import (
	"errors"
	"log/slog"
	"net/http"
)

// Middleware attaches the verified identity to the request context. It never
// rejects a request; unauthenticated callers reach the gate with no identity.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(BearerToken(r))
			if err != nil {
				if logger != nil && !errors.Is(err, ErrMissingToken) {
					logger.Debug("bearer token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), &id)))
		})
	}
}
