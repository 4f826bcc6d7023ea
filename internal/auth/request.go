package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// CookieName is the cookie a browser carries its session token in.
const CookieName = "marks_session"

// TokenFromRequest looks for a token in the Authorization header, then the
// session cookie, then the access_token query parameter (browsers cannot
// set headers on websocket upgrades).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("access_token")
}

type identityKeyType struct{}

var identityKey = identityKeyType{}

// WithIdentity stores the resolved identity on the request context.
func WithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (*domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*domain.Identity)
	return id, ok && id != nil
}
