/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership provides Redis lease-based leader election. One
// node at a time holds the scheduler lease; the rest keep campaigning
// and take over when the lease expires.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

const (
	defaultLeaseKey      = "heimdall:leader:scheduler"
	defaultLeaseDuration = 15 * time.Second
	defaultRetryInterval = 2 * time.Second
)

// releaseScript deletes the lease only if this instance still owns it,
// so a slow shutdown cannot evict a successor.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Config tunes the election behavior.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LeaseKey is the Redis key holding the current leader's ID.
	LeaseKey string
	// LeaseDuration is how long a lease stays valid without renewal.
	LeaseDuration time.Duration
	// RetryInterval is the campaign and renewal cadence. Must be well
	// under LeaseDuration or the leader loses its own lease.
	RetryInterval time.Duration
	// InstanceID uniquely identifies this node; generated when empty.
	InstanceID string
}

// DefaultConfig returns the election defaults for a local Redis.
func DefaultConfig() Config {
	return Config{
		RedisAddr:     "localhost:6379",
		LeaseKey:      defaultLeaseKey,
		LeaseDuration: defaultLeaseDuration,
		RetryInterval: defaultRetryInterval,
	}
}

// Election campaigns for the scheduler lease against other nodes.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	cfg        Config
	instanceID string

	mu       sync.Mutex
	leader   bool
	cancel   context.CancelFunc
	leaderCh chan bool
	stopOnce sync.Once
}

// NewElection connects to Redis and prepares a campaign. The connection
// is verified up front; an unreachable Redis is a hard error because a
// node that cannot see the lease must not schedule.
func NewElection(cfg Config, logger zerolog.Logger) (*Election, error) {
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = defaultLeaseKey
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaultLeaseDuration
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("leadership redis ping: %w", err)
	}

	e := &Election{
		client:     client,
		logger:     logger.With().Str("component", "leader_election").Logger(),
		cfg:        cfg,
		instanceID: cfg.InstanceID,
		leaderCh:   make(chan bool, 1),
	}
	e.logger.Info().
		Str("redis_addr", cfg.RedisAddr).
		Str("instance_id", cfg.InstanceID).
		Dur("lease", cfg.LeaseDuration).
		Msg("leader election ready")
	return e, nil
}

// Start begins campaigning. The first attempt happens immediately so a
// lone node becomes leader without waiting out a retry interval.
func (e *Election) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go e.campaign(ctx)
	return nil
}

// Stop leaves the election, releasing the lease if held. Safe to call
// more than once.
func (e *Election) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.mu.Lock()
		cancel := e.cancel
		wasLeader := e.leader
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if wasLeader {
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if relErr := e.release(ctx); relErr != nil {
				e.logger.Error().Err(relErr).Msg("lease release failed")
			}
		}
		err = e.client.Close()
	})
	return err
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// LeaderCh delivers leadership transitions. Buffered by one; a missed
// intermediate flip collapses into the latest state.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// Leader returns the instance ID currently holding the lease, or empty
// when the seat is vacant.
func (e *Election) Leader(ctx context.Context) (string, error) {
	id, err := e.client.Get(ctx, e.cfg.LeaseKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease: %w", err)
	}
	return id, nil
}

func (e *Election) campaign(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	e.attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attempt(ctx)
		}
	}
}

func (e *Election) attempt(ctx context.Context) {
	held, err := e.acquireOrRenew(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("lease attempt failed")
		e.setLeader(false)
		return
	}
	e.setLeader(held)
}

// acquireOrRenew takes the lease if vacant, or extends it if this
// instance already owns it.
func (e *Election) acquireOrRenew(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.cfg.LeaseKey, e.instanceID, e.cfg.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("take lease: %w", err)
	}
	if ok {
		return true, nil
	}

	owner, err := e.client.Get(ctx, e.cfg.LeaseKey).Result()
	if err == redis.Nil {
		// Lease expired between SetNX and Get; next attempt takes it.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lease owner: %w", err)
	}
	if owner != e.instanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, e.cfg.LeaseKey, e.cfg.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) release(ctx context.Context) error {
	if err := e.client.Eval(ctx, releaseScript, []string{e.cfg.LeaseKey}, e.instanceID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	e.logger.Info().Msg("lease released")
	return nil
}

func (e *Election) setLeader(leader bool) {
	e.mu.Lock()
	if e.leader == leader {
		e.mu.Unlock()
		return
	}
	e.leader = leader
	e.mu.Unlock()

	if leader {
		e.logger.Info().Str("instance_id", e.instanceID).Msg("lease acquired")
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(1)
		telemetry.LeaderElectionChangesTotal.WithLabelValues(e.instanceID, "acquired").Inc()
	} else {
		e.logger.Warn().Str("instance_id", e.instanceID).Msg("lease lost")
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(0)
		telemetry.LeaderElectionChangesTotal.WithLabelValues(e.instanceID, "lost").Inc()
	}

	select {
	case e.leaderCh <- leader:
	default:
	}
}
