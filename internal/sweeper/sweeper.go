// Package sweeper fails in-progress matches whose simulation loop went silent,
// for example because the process driving it was restarted mid-fight.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/config"
)

// StaleReason is recorded as the failure reason of swept matches.
const StaleReason = "simulation stalled: no activity before the stale deadline"

// StaleFailer fails in-progress matches with no activity since cutoff.
type StaleFailer interface {
	FailStale(ctx context.Context, cutoff time.Time, reason string, at time.Time) ([]string, error)
}

// Notifier is told about every swept match so watchers end promptly.
type Notifier interface {
	Notify(matchID string)
}

// Sweeper runs a periodic stale-match pass on a gocron scheduler.
type Sweeper struct {
	store      StaleFailer
	notifier   Notifier
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger

	mu    sync.Mutex
	sched gocron.Scheduler
}

// New creates a Sweeper. notifier may be nil.
//
// Precondition: cfg.Interval > 0 and cfg.StaleAfter > 0; store and logger are non-nil.
func New(store StaleFailer, notifier Notifier, cfg config.SweeperConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		notifier:   notifier,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Sweep performs one pass and returns the ids it failed.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	now := s.now()
	ids, err := s.store.FailStale(ctx, now.Add(-s.staleAfter), StaleReason, now)
	if err != nil {
		return nil, fmt.Errorf("sweeping stale matches: %w", err)
	}
	for _, id := range ids {
		s.logger.Warn("failed stale match", zap.String("match_id", id), zap.Duration("stale_after", s.staleAfter))
		if s.notifier != nil {
			s.notifier.Notify(id)
		}
	}
	return ids, nil
}

// Start schedules Sweep every interval, starting immediately, and blocks until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			start := time.Now()
			ids, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("stale sweep failed", zap.Error(err))
				return
			}
			s.logger.Debug("stale sweep finished",
				zap.Int("failed", len(ids)),
				zap.Duration("elapsed", time.Since(start)),
			)
		}),
		gocron.WithName("stale-match-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("scheduling sweep: %w", err)
	}

	s.mu.Lock()
	s.sched = sched
	s.mu.Unlock()
	sched.Start()

	<-ctx.Done()
	return nil
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (s *Sweeper) Stop(context.Context) error {
	s.mu.Lock()
	sched := s.sched
	s.sched = nil
	s.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Shutdown()
}
