package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

var _ backend.Backend = (*Driver)(nil)

// Driver implements the whole backend on a single Redis instance:
// records in plain keys, ordering in sorted sets and the change feed
// over pub/sub.
type Driver struct {
	client *goredis.Client
	logger logger.Logger
	now    func() time.Time
	newID  func() string
}

// New wraps an already connected client.
func New(client *goredis.Client, log logger.Logger) *Driver {
	return &Driver{
		client: client,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  newBookmarkID,
	}
}

// Name identifies the driver in logs and status endpoints.
func (d *Driver) Name() string { return "redis" }

// Ping checks the connection.
func (d *Driver) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close releases the client and every connection it pooled.
func (d *Driver) Close() error {
	return d.client.Close()
}
