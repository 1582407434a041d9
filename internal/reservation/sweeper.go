package reservation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepInterval is the compaction period for expired reservations.
const DefaultSweepInterval = time.Minute

// ExpirySweeper is the part of Manager the sweeper drives.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// RunGuard lets one process among several replicas own a sweep. TryRun
// reports false without calling fn when another holder has the key.
type RunGuard interface {
	TryRun(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error)
}

// SweepLockKey is the guard key shared by every sweeper replica.
const SweepLockKey = "reservation:sweeper"

type SweeperOption func(*Sweeper)

// WithRunGuard makes each sweep run only while holding the guard.
func WithRunGuard(g RunGuard) SweeperOption {
	return func(s *Sweeper) { s.guard = g }
}

// Sweeper periodically compacts expired reservations. Reads never depend on
// it having run.
type Sweeper struct {
	target   ExpirySweeper
	interval time.Duration
	guard    RunGuard
	log      *zap.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewSweeper(target ExpirySweeper, interval time.Duration, log *zap.Logger, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sweeper{target: target, interval: interval, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one sweep immediately and then one per interval until Stop or
// until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule sweeper: %w", err)
	}

	s.RunOnce(runCtx)

	c.Start()
	s.cron = c
	s.cancel = cancel

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()

	s.log.Info("reservation.Sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.log.Info("reservation.Sweeper stopped")
}

// RunOnce performs a single sweep and logs its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	var removed int
	var err error
	if s.guard == nil {
		removed, err = s.target.SweepExpired(runCtx)
	} else {
		var ran bool
		ran, err = s.guard.TryRun(runCtx, SweepLockKey, func(ctx context.Context) error {
			var sweepErr error
			removed, sweepErr = s.target.SweepExpired(ctx)
			return sweepErr
		})
		if err == nil && !ran {
			s.log.Debug("reservation.Sweeper skipped, another replica holds the lock")
			return 0
		}
	}
	if err != nil {
		s.log.Error("reservation.Sweeper run failed", zap.Error(err))
		return removed
	}
	s.log.Debug("reservation.Sweeper run complete",
		zap.Int("removed", removed),
		zap.Duration("took", time.Since(start)),
	)
	return removed
}
