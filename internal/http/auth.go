package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"finguard/internal/identity"
	applog "finguard/internal/log"
)

const principalKey ContextKey = "principal"

// withAuth authenticates the bearer token and attaches the principal to
// the request context. Unauthenticated requests never reach a handler.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.auth.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			atomic.AddInt64(&s.metrics.unauthorizedHits, 1)
			slog.WarnContext(r.Context(), "Rejected unauthenticated request",
				applog.FieldPath, r.URL.Path,
				applog.FieldError, err)
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next(w, r.WithContext(ctx))
	}
}

// principalFrom returns the authenticated principal for the request.
func principalFrom(ctx context.Context) identity.Principal {
	p, _ := ctx.Value(principalKey).(identity.Principal)
	return p
}
