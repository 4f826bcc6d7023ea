// Package backend defines the contracts of the hosted services the dashboard
// is a client of: identity, bookmark storage, change feed and sessions.
//
// Concrete drivers live in the redis and postgres sub packages.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// ErrSessionNotFound is returned by Sessions.Lookup for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Auth resolves the identity behind one client session.
type Auth interface {
	// CurrentIdentity returns nil, nil when nobody is signed in.
	CurrentIdentity(ctx context.Context) (*domain.Identity, error)
	EndSession(ctx context.Context) error
}

// Store persists bookmarks.
type Store interface {
	// List returns every bookmark of owner ordered by CreatedAt, newest first.
	List(ctx context.Context, owner string) ([]domain.Bookmark, error)
	// Insert stores b and returns the canonical row (ID and CreatedAt set).
	Insert(ctx context.Context, b domain.NewBookmark) (domain.Bookmark, error)
	// Delete removes the bookmark id owned by owner. Unknown ids are not an error.
	Delete(ctx context.Context, owner, id string) error
}

// Handler receives change feed events in delivery order.
type Handler func(domain.ChangeEvent)

// Feed pushes row level changes scoped to a single owner.
type Feed interface {
	Subscribe(ctx context.Context, owner string, h Handler) (Subscription, error)
}

// Subscription is a live Feed registration.
// Once Unsubscribe returns the handler is never called again.
type Subscription interface {
	Unsubscribe() error
}

// Session is a stored sign-in.
type Session struct {
	ID        string          `json:"id"`
	Identity  domain.Identity `json:"identity"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Sessions persists sign-ins so they can be revoked before their token expires.
type Sessions interface {
	CreateSession(ctx context.Context, s Session) error
	LookupSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	// PurgeExpired removes sessions expired at now and reports how many went away.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Backend bundles everything a driver provides.
type Backend interface {
	Store
	Feed
	Sessions
	Name() string
	Ping(ctx context.Context) error
	Close() error
}
