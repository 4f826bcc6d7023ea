package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marks/internal/backend"
)

// CreateSession stores s until its expiry
func (d *Driver) CreateSession(ctx context.Context, s backend.Session) error {
	ttl := s.ExpiresAt.Sub(d.now())
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", s.ID)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := d.client.Set(ctx, SessionKey(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LookupSession returns backend.ErrSessionNotFound once the key expired or was deleted
func (d *Driver) LookupSession(ctx context.Context, id string) (*backend.Session, error) {
	data, err := d.client.Get(ctx, SessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, backend.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s backend.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// DeleteSession removes a session (logout)
func (d *Driver) DeleteSession(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, SessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires session keys on its own.
func (d *Driver) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
