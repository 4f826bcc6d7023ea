package mw

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// RequireIdentity rejects requests without a live session token and stores
// the resolved identity on the request context.
func RequireIdentity(issuer *auth.Issuer, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := issuer.Resolve(r.Context(), auth.TokenFromRequest(r))
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
			case errors.Is(err, auth.ErrNoToken),
				errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, backend.ErrSessionNotFound):
				log.Debug("RequireIdentity: rejected", logger.Error(err))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			default:
				log.Error("RequireIdentity: session lookup failed", logger.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			}
		})
	}
}
