package auth

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
)

var _ backend.Auth = (*Session)(nil)

// Session is the backend.Auth of one client, bound to the token it presented.
type Session struct {
	issuer *Issuer
	token  string
}

// Session binds token to the backend.Auth contract. An empty token is a
// signed-out client.
func (i *Issuer) Session(token string) *Session {
	return &Session{issuer: i, token: token}
}

// CurrentIdentity treats missing, invalid, expired and revoked tokens as
// "signed out" (nil, nil). Only store failures are returned as errors.
func (s *Session) CurrentIdentity(ctx context.Context) (*domain.Identity, error) {
	id, err := s.issuer.Resolve(ctx, s.token)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, ErrNoToken),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, backend.ErrSessionNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// EndSession revokes the token. Signing out twice is not an error.
func (s *Session) EndSession(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	err := s.issuer.End(ctx, s.token)
	if errors.Is(err, ErrInvalidToken) {
		return nil
	}
	return err
}
