package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// ChangesChannel is the NOTIFY channel the bookmarks trigger publishes on.
const ChangesChannel = "bookmark_changes"

// notification is the payload built by marks_notify_bookmark_change().
type notification struct {
	Op     string          `json:"op"`
	Record domain.Bookmark `json:"record"`
}

func decodeNotification(payload string) (domain.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to decode notification: %w", err)
	}
	return domain.ChangeEvent{Kind: domain.ParseEventKind(n.Op), Record: n.Record}, nil
}

// Subscribe registers h for owner's events on the shared listener.
func (d *Driver) Subscribe(ctx context.Context, owner string, h backend.Handler) (backend.Subscription, error) {
	s := &subscription{listener: d.listener, owner: owner, handler: h}
	if err := d.listener.add(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

type subscription struct {
	listener *listener
	owner    string
	handler  backend.Handler

	mu     sync.Mutex
	closed bool
}

// deliver holds mu while the handler runs so Unsubscribe waits for it.
func (s *subscription) deliver(ev domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handler(ev)
}

func (s *subscription) Unsubscribe() error {
	s.listener.remove(s)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// listener owns one pooled connection in LISTEN mode and fans
// notifications out to subscriptions by owner.
type listener struct {
	pool   *pgxpool.Pool
	logger logger.Logger
	retry  time.Duration

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func newListener(pool *pgxpool.Pool, log logger.Logger, retry time.Duration) *listener {
	return &listener{
		pool:   pool,
		logger: log,
		retry:  retry,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

// add starts the listener on first use. LISTEN is active when add returns.
func (l *listener) add(ctx context.Context, s *subscription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done == nil {
		conn, err := l.listen(ctx)
		if err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		l.done = make(chan struct{})
		go l.run(runCtx, conn)
	}

	owned := l.subs[s.owner]
	if owned == nil {
		owned = make(map[*subscription]struct{})
		l.subs[s.owner] = owned
	}
	owned[s] = struct{}{}
	return nil
}

func (l *listener) remove(s *subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if owned := l.subs[s.owner]; owned != nil {
		delete(owned, s)
		if len(owned) == 0 {
			delete(l.subs, s.owner)
		}
	}
}

func (l *listener) subscribers(owner string) []*subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	owned := l.subs[owner]
	out := make([]*subscription, 0, len(owned))
	for s := range owned {
		out = append(out, s)
	}
	return out
}

// resync tells every subscriber that notifications sent while the
// listener was down are gone.
func (l *listener) resync() {
	l.mu.Lock()
	var all []*subscription
	for _, owned := range l.subs {
		for s := range owned {
			all = append(all, s)
		}
	}
	l.mu.Unlock()

	for _, s := range all {
		s.deliver(domain.ChangeEvent{Kind: domain.EventResync, Record: domain.Bookmark{Owner: s.owner}})
	}
}

func (l *listener) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (l *listener) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangesChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangesChannel, err)
	}
	return conn, nil
}

func (l *listener) run(ctx context.Context, conn *pgxpool.Conn) {
	defer close(l.done)

	for {
		err := l.consume(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("change feed listener lost its connection, retrying",
			logger.Duration("retry_in", l.retry),
			logger.Error(err))

		conn = nil
		for conn == nil {
			timer := time.NewTimer(l.retry)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if conn, err = l.listen(ctx); err != nil {
				l.logger.Error("change feed listener still down", logger.Error(err))
			}
		}
		l.logger.Info("change feed listener reconnected")
		l.resync()
	}
}

func (l *listener) consume(ctx context.Context, conn *pgxpool.Conn) error {
	defer l.release(conn)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := decodeNotification(n.Payload)
		if err != nil {
			l.logger.Warn("dropping malformed notification", logger.Error(err))
			continue
		}
		for _, s := range l.subscribers(ev.Record.Owner) {
			s.deliver(ev)
		}
	}
}

// release puts the connection back without leaving it in LISTEN mode.
func (l *listener) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// A closed connection is dropped by the pool on release
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}
