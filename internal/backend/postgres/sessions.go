package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrSnakeDoc/marks/internal/backend"
)

func (d *Driver) CreateSession(ctx context.Context, s backend.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, email, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := d.pool.Exec(ctx, query, s.ID, s.Identity.ID, s.Identity.Email, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (d *Driver) LookupSession(ctx context.Context, id string) (*backend.Session, error) {
	query := `
		SELECT id, user_id, email, created_at, expires_at
		FROM sessions
		WHERE id = $1 AND expires_at > now()
	`
	var s backend.Session
	err := d.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.Identity.ID,
		&s.Identity.Email,
		&s.CreatedAt,
		&s.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, backend.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (d *Driver) DeleteSession(ctx context.Context, id string) error {
	if _, err := d.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpired deletes sessions that expired at or before now.
func (d *Driver) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
