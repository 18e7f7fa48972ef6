package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/leadership"
)

// LeaderAware runs the scheduler only while this node holds the
// cluster lease, so multi-node deployments evaluate each schedule once.
type LeaderAware struct {
	scheduler *Service
	election  *leadership.Election
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLeaderAware wraps the scheduler in lease-gated execution.
func NewLeaderAware(scheduler *Service, election *leadership.Election, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		scheduler: scheduler,
		election:  election,
		logger:    logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Start joins the election and begins reacting to leadership changes.
func (la *LeaderAware) Start(ctx context.Context) error {
	if err := la.election.Start(ctx); err != nil {
		return err
	}
	go la.watch(ctx)
	return nil
}

// Stop halts the scheduler loop if running and leaves the election.
func (la *LeaderAware) Stop() error {
	la.stopScheduler()
	return la.election.Stop()
}

// IsLeader reports whether this node currently holds the lease.
func (la *LeaderAware) IsLeader() bool {
	return la.election.IsLeader()
}

func (la *LeaderAware) watch(ctx context.Context) {
	if la.election.IsLeader() {
		la.startScheduler(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			la.stopScheduler()
			return
		case isLeader := <-la.election.LeaderCh():
			if isLeader {
				la.logger.Info().Msg("lease acquired, starting scheduler")
				la.startScheduler(ctx)
			} else {
				la.logger.Warn().Msg("lease lost, stopping scheduler")
				la.stopScheduler()
			}
		}
	}
}

func (la *LeaderAware) startScheduler(ctx context.Context) {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	la.cancel = cancel
	done := make(chan struct{})
	la.done = done

	go func() {
		defer close(done)
		if err := la.scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("scheduler exited")
		}
	}()
}

func (la *LeaderAware) stopScheduler() {
	la.mu.Lock()
	cancel, done := la.cancel, la.done
	la.cancel, la.done = nil, nil
	la.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
