package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

func newBookmarkID() string { return uuid.NewString() }

// List returns owner's bookmarks, newest first
func (d *Driver) List(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	ids, err := d.client.ZRevRange(ctx, OwnerBookmarksKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark ids: %w", err)
	}

	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without record: skip it
			d.logger.Debug("dangling bookmark index entry", logger.String("bookmark_id", ids[i]))
			continue
		}
		var b domain.Bookmark
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bookmark %s: %w", ids[i], err)
		}
		bookmarks = append(bookmarks, b)
	}

	return bookmarks, nil
}

// Insert stores a new bookmark and publishes an insert event
func (d *Driver) Insert(ctx context.Context, nb domain.NewBookmark) (domain.Bookmark, error) {
	if err := nb.Validate(); err != nil {
		return domain.Bookmark{}, err
	}

	b := domain.Bookmark{
		ID:        d.newID(),
		URL:       nb.URL,
		Title:     nb.Title,
		Owner:     nb.Owner,
		CreatedAt: d.now(),
	}

	data, err := json.Marshal(b)
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to marshal bookmark: %w", err)
	}

	_, err = d.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(b.ID), data, 0)
		pipe.ZAdd(ctx, OwnerBookmarksKey(b.Owner), goredis.Z{
			Score:  float64(b.CreatedAt.UnixMicro()),
			Member: b.ID,
		})
		return nil
	})
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to save bookmark: %w", err)
	}

	d.publish(ctx, domain.ChangeEvent{Kind: domain.EventInsert, Record: b})
	return b, nil
}

// Delete removes a bookmark owned by owner and publishes a delete event.
// Unknown ids and ids owned by someone else are ignored.
func (d *Driver) Delete(ctx context.Context, owner, id string) error {
	data, err := d.client.Get(ctx, BookmarkKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to get bookmark: %w", err)
	}

	var b domain.Bookmark
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("failed to unmarshal bookmark: %w", err)
	}
	if b.Owner != owner {
		return nil
	}

	_, err = d.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, BookmarkKey(id))
		pipe.ZRem(ctx, OwnerBookmarksKey(owner), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}

	d.publish(ctx, domain.ChangeEvent{Kind: domain.EventDelete, Record: b})
	return nil
}

// publish is best effort: the write already happened, subscribers will
// catch up on their next fetch.
func (d *Driver) publish(ctx context.Context, ev domain.ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.Warn("failed to marshal change event", logger.Error(err))
		return
	}
	if err := d.client.Publish(ctx, ChangesChannel(ev.Record.Owner), payload).Err(); err != nil {
		d.logger.Warn("failed to publish change event",
			logger.String("kind", string(ev.Kind)),
			logger.String("bookmark_id", ev.Record.ID),
			logger.Error(err))
	}
}
