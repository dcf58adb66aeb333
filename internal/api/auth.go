package api

import (
	"context"
	"net/http"

	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/cheetahbyte/plg/internal/handlers"
	"github.com/cheetahbyte/plg/internal/services"
	"github.com/rs/zerolog/hlog"
)

// IdentityVerifier turns a bearer token into a portal identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.Identity, error)
}

// RequireIdentity authenticates portal requests. Without a verifier the
// portal is reported as not configured.
func RequireIdentity(v IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				handlers.WriteProblem(w, r, services.ErrNotConfigured)
				return
			}
			raw, err := auth.BearerToken(r)
			if err != nil {
				handlers.WriteProblem(w, r, err)
				return
			}
			id, err := v.Verify(r.Context(), raw)
			if err != nil {
				hlog.FromRequest(r).Debug().Err(err).Msg("portal token rejected")
				handlers.WriteProblem(w, r, auth.ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin checks the bearer admin key against the configured hash.
func RequireAdmin(a *auth.AdminAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				handlers.WriteProblem(w, r, services.ErrNotConfigured)
				return
			}
			key, err := auth.BearerToken(r)
			if err != nil {
				handlers.WriteProblem(w, r, err)
				return
			}
			ok, err := a.Check(key)
			if err != nil {
				handlers.WriteProblem(w, r, err)
				return
			}
			if !ok {
				hlog.FromRequest(r).Warn().Msg("admin key rejected")
				handlers.WriteProblem(w, r, auth.ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
