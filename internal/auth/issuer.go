// Package auth issues and verifies session tokens.
//
// A token is an HS256 JWT whose jti names a stored backend.Session.
// Ending the session deletes it, which revokes the token before it expires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
)

// TokenIssuer is the iss claim of every token.
const TokenIssuer = "marks"

var (
	ErrNoToken      = errors.New("no session token")
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims carried by a session token.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs tokens and resolves them back to identities.
type Issuer struct {
	secret   []byte
	ttl      time.Duration
	sessions backend.Sessions
	now      func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration, sessions backend.Sessions) *Issuer {
	return &Issuer{
		secret:   secret,
		ttl:      ttl,
		sessions: sessions,
		now:      time.Now,
	}
}

// Issue starts a session for id and returns its token.
func (i *Issuer) Issue(ctx context.Context, id domain.Identity) (string, error) {
	if id.ID == "" {
		return "", fmt.Errorf("cannot issue a token without identity id")
	}

	now := i.now().UTC()
	s := backend.Session{
		ID:        ulid.Make().String(),
		Identity:  id,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.sessions.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}

	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   id.ID,
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies token and checks its session is still alive.
func (i *Issuer) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	claims, err := i.parse(token)
	if err != nil {
		return nil, err
	}

	s, err := i.sessions.LookupSession(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if s.Identity.ID != claims.Subject {
		return nil, fmt.Errorf("%w: subject does not match session", ErrInvalidToken)
	}

	return &domain.Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// End deletes the session behind token.
func (i *Issuer) End(ctx context.Context, token string) error {
	claims, err := i.parse(token)
	if err != nil {
		return err
	}
	return i.sessions.DeleteSession(ctx, claims.ID)
}

func (i *Issuer) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing jti or sub", ErrInvalidToken)
	}
	return claims, nil
}
