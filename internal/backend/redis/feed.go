package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

type subscription struct {
	pubsub *goredis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

// Subscribe listens on owner's change channel. It returns once Redis has
// confirmed the subscription, so no event published afterwards is missed.
func (d *Driver) Subscribe(ctx context.Context, owner string, h backend.Handler) (backend.Subscription, error) {
	channel := ChangesChannel(owner)
	ps := d.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &subscription{pubsub: ps, done: make(chan struct{})}
	msgs := ps.Channel()

	go func() {
		defer close(sub.done)
		for msg := range msgs {
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				d.logger.Warn("dropping malformed change event",
					logger.String("channel", msg.Channel),
					logger.Error(err))
				continue
			}
			h(ev)
		}
	}()

	d.logger.Debug("change feed subscribed", logger.String("channel", channel))
	return sub, nil
}

// Unsubscribe closes the pub/sub connection and waits for the delivery
// goroutine to exit. Safe to call more than once.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}
