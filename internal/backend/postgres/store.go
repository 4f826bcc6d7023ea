package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

const bookmarkColumns = `id::text, user_id, url, title, created_at`

func scanBookmark(row pgx.CollectableRow) (domain.Bookmark, error) {
	var b domain.Bookmark
	err := row.Scan(&b.ID, &b.Owner, &b.URL, &b.Title, &b.CreatedAt)
	return b, err
}

func (d *Driver) List(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	query := `
		SELECT ` + bookmarkColumns + `
		FROM bookmarks
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := d.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}

	bookmarks, err := pgx.CollectRows(rows, scanBookmark)
	if err != nil {
		return nil, fmt.Errorf("failed to scan bookmarks: %w", err)
	}
	return bookmarks, nil
}

func (d *Driver) Insert(ctx context.Context, nb domain.NewBookmark) (domain.Bookmark, error) {
	if err := nb.Validate(); err != nil {
		return domain.Bookmark{}, err
	}

	query := `
		INSERT INTO bookmarks (user_id, url, title)
		VALUES ($1, $2, $3)
		RETURNING ` + bookmarkColumns

	rows, err := d.pool.Query(ctx, query, nb.Owner, nb.URL, nb.Title)
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to insert bookmark: %w", err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBookmark)
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to insert bookmark: %w", err)
	}
	return b, nil
}

// Delete ignores ids that are not UUIDs: they cannot exist in the table.
func (d *Driver) Delete(ctx context.Context, owner, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}

	query := `DELETE FROM bookmarks WHERE id = $1 AND user_id = $2`
	if _, err := d.pool.Exec(ctx, query, id, owner); err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	return nil
}
