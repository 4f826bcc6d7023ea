package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/marks/internal/logger"
)

// RetryPolicy bounds a startup connection loop.
type RetryPolicy struct {
	Timeout       time.Duration // total time allowed (ex: 30s)
	Interval      time.Duration // first wait between attempts, doubled each time
	MaxWait       time.Duration // cap for the wait between attempts
	AttemptTime   time.Duration // deadline of a single attempt
	WarnThreshold int           // attempts logged as warnings before switching to errors
}

// DefaultRetryPolicy is used when a caller leaves the policy empty.
var DefaultRetryPolicy = RetryPolicy{
	Timeout:       30 * time.Second,
	Interval:      2 * time.Second,
	MaxWait:       10 * time.Second,
	AttemptTime:   5 * time.Second,
	WarnThreshold: 3,
}

// Validate rejects policies that would never make progress.
func (p RetryPolicy) Validate() error {
	switch {
	case p.Timeout <= 0:
		return fmt.Errorf("retry timeout must be > 0, got %v", p.Timeout)
	case p.Interval <= 0:
		return fmt.Errorf("retry interval must be > 0, got %v", p.Interval)
	case p.MaxWait <= 0:
		return fmt.Errorf("retry max wait must be > 0, got %v", p.MaxWait)
	case p.AttemptTime <= 0:
		return fmt.Errorf("retry attempt timeout must be > 0, got %v", p.AttemptTime)
	case p.WarnThreshold < 0:
		return fmt.Errorf("retry warn threshold must be >= 0, got %d", p.WarnThreshold)
	}
	return nil
}

// Retry calls attempt until it succeeds, the policy timeout expires or ctx
// is cancelled. target names the remote in log lines (ex: "redis").
func Retry(ctx context.Context, p RetryPolicy, target, addr string, log logger.Logger, attempt func(ctx context.Context) error) error {
	if p == (RetryPolicy{}) {
		p = DefaultRetryPolicy
	}
	if err := p.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	log.Info("connecting to "+target,
		logger.String("addr", addr),
		logger.Duration("timeout", p.Timeout))

	start := time.Now()
	wait := p.Interval
	for n := 1; ; n++ {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, p.AttemptTime)
		err := attempt(attemptCtx)
		attemptCancel()

		if err == nil {
			if n > 1 {
				log.Warn("connected to "+target+" after retry",
					logger.String("addr", addr),
					logger.Int("attempts", n),
					logger.Duration("elapsed", time.Since(start)))
			} else {
				log.Info("connected to "+target, logger.String("addr", addr))
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Error(target+" unavailable",
				logger.String("addr", addr),
				logger.Int("attempts", n),
				logger.Duration("timeout", p.Timeout),
				logger.Error(err))
			return fmt.Errorf("%s unavailable at %s after %d attempts: %w", target, addr, n, err)

		case <-timer.C:
			fields := []logger.Field{
				logger.String("addr", addr),
				logger.Int("attempt", n),
				logger.Duration("next_retry_in", wait),
				logger.Error(err),
			}
			if n <= p.WarnThreshold {
				log.Warn(target+" connection failed, retrying", fields...)
			} else {
				log.Error(target+" still unavailable, retrying", fields...)
			}
			wait = min(wait*2, p.MaxWait)
		}
	}
}
