package handlers

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Logout ends the caller's session, clears the cookie and sends the client
// to the public entry. Logging out without a session still redirects.
func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if err := d.Issuer.End(r.Context(), token); err != nil && !errors.Is(err, auth.ErrNoToken) {
			d.Logger.Warn("failed to end session", logger.Error(err))
		}

		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, d.PublicEntry, http.StatusSeeOther)
	}
}
