package di

import (
	"context"
	"time"

	"FinVerdict/internal/service/ratelimit"
)

// sweeper periodically drops idle rate-limit buckets.
type sweeper struct {
	limiter  *ratelimit.Limiter
	interval time.Duration
	idle     time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func newSweeper(l *ratelimit.Limiter, interval, idle time.Duration) *sweeper {
	return &sweeper{limiter: l, interval: interval, idle: idle}
}

func (s *sweeper) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.limiter.Sweep(s.idle)
			}
		}
	}()
	return nil
}

func (s *sweeper) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
