package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// SessionSweeper periodically purges expired sessions.
// Backends that expire sessions on their own (Redis TTLs) report zero.
type SessionSweeper struct {
	sessions backend.Sessions
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSessionSweeper creates a sweeper running every interval (default: 1h).
func NewSessionSweeper(sessions backend.Sessions, log logger.Logger, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionSweeper{
		sessions: sessions,
		logger:   log,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a first sweep, then sweeps on every tick until Stop or ctx ends.
func (s *SessionSweeper) Start(ctx context.Context) error {
	// Run immediately on start
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Warn("initial session sweep failed", logger.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Error("session sweep failed", logger.Error(err))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the sweeper. Safe to call more than once.
func (s *SessionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Sweep deletes every session expired at the current time.
func (s *SessionSweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.sessions.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.logger.Info("expired sessions purged", logger.Int("sessions_deleted", n))
	} else {
		s.logger.Debug("no expired sessions to purge")
	}
	return n, nil
}
