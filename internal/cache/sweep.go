package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepExpired removes every entry whose deadline has passed and returns
// how many were removed. Each removal counts as a TTL eviction.
func (s *Store) SweepExpired(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for e := s.tail; e != nil; {
		prev := e.prev
		if e.expired(now) {
			s.remove(e, reasonExpired)
			removed++
		}
		e = prev
	}
	return removed
}

// Sweeper is anything that can purge its expired entries in one pass.
type Sweeper interface {
	SweepExpired(ctx context.Context) int
}

// Janitor calls SweepExpired on a fixed interval until stopped.
type Janitor struct {
	target   Sweeper
	interval time.Duration
	logger   *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewJanitor returns a stopped janitor.
// if interval is not positive a default of 1 min is used
func NewJanitor(target Sweeper, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		target:   target,
		interval: interval,
		logger:   logger.Named("janitor"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. It ends when ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) {
	go j.run(ctx)
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if n := j.target.SweepExpired(ctx); n > 0 {
				j.logger.Info("swept expired entries",
					zap.Int("removed", n),
					zap.Duration("duration", time.Since(start)),
				)
			}
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop and waits for it to exit. Safe to call more than once,
// but only after Start.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stop)
	})
	<-j.done
}
