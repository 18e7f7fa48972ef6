/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/events"
)

// Channels are the prefix plus the event type, e.g.
// heimdall:events:player.status_change.
const redisChannelPrefix = "heimdall:events:"

// RedisBus mirrors the in-process event bus onto Redis pub/sub. A
// circuit breaker degrades the bus to local-only delivery when Redis
// misbehaves; a time-gated probe restores the broker leg once it is
// reachable again. The Redis client is never closed while degraded so
// the probe always has a live pool to ping.
type RedisBus struct {
	client *redis.Client
	local  *events.Bus
	logger zerolog.Logger
	nodeID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	relays     map[events.EventType]*redis.PubSub
	wanted     map[events.EventType]struct{}
	failCount  int
	maxFails   int
	degraded   bool
	lastCheck  time.Time
	checkEvery time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed event bus. A Redis that is down at
// boot is tolerated: the bus starts degraded, delivers locally, and
// probes for the broker on later publishes.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	if nodeID == "" {
		nodeID = generateNodeID()
	}
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rb := &RedisBus{
		client:     client,
		local:      events.NewBus(),
		logger:     logger.With().Str("component", "redis_bus").Str("node_id", nodeID).Logger(),
		nodeID:     nodeID,
		ctx:        ctx,
		cancel:     cancel,
		relays:     make(map[events.EventType]*redis.PubSub),
		wanted:     make(map[events.EventType]struct{}),
		maxFails:   cfg.MaxFailures,
		checkEvery: cfg.CheckInterval,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, event bus degraded to local delivery")
		rb.degraded = true
		rb.lastCheck = time.Now()
		return rb, nil
	}

	rb.logger.Info().Str("addr", cfg.Addr).Msg("Redis event bus ready")
	return rb, nil
}

// Subscribe registers a local subscriber and ensures events of this
// type published by other nodes are relayed to it.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.local.Subscribe(eventType)

	rb.mu.Lock()
	rb.wanted[eventType] = struct{}{}
	if !rb.degraded {
		rb.startRelayLocked(eventType)
	}
	rb.mu.Unlock()

	return sub
}

// Unsubscribe removes a local subscriber. The relay subscription stays
// up for any remaining subscribers and is torn down on Close.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally, then broadcasts to the cluster.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if !rb.brokerReady() {
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, redisChannelPrefix+string(eventType), data).Err(); err != nil {
		rb.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Connected reports whether the broker leg is live.
func (rb *RedisBus) Connected() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return !rb.degraded
}

// Close tears down relay subscriptions, the Redis client, and every
// local subscriber channel.
func (rb *RedisBus) Close() error {
	rb.cancel()

	rb.mu.Lock()
	for eventType, pubsub := range rb.relays {
		if err := pubsub.Close(); err != nil {
			rb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("relay close failed")
		}
		delete(rb.relays, eventType)
	}
	rb.mu.Unlock()

	rb.wg.Wait()

	err := rb.client.Close()
	if closeErr := rb.local.Close(); err == nil {
		err = closeErr
	}
	return err
}

// brokerReady reports whether the Redis leg should be attempted,
// probing for recovery when the bus is degraded.
func (rb *RedisBus) brokerReady() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.degraded {
		return true
	}
	if time.Since(rb.lastCheck) < rb.checkEvery {
		return false
	}
	rb.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		rb.logger.Debug().Err(err).Msg("Redis still unavailable")
		return false
	}

	rb.degraded = false
	rb.failCount = 0
	for eventType := range rb.wanted {
		rb.startRelayLocked(eventType)
	}
	rb.logger.Info().Msg("Redis event bus recovered, broker delivery re-enabled")
	return true
}

// handleFailure trips the circuit breaker after repeated errors.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.degraded {
		rb.degraded = true
		rb.lastCheck = time.Now()
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, event bus degraded to local delivery")
	}
}

// startRelayLocked opens the Redis subscription for one event type.
// Caller holds rb.mu.
func (rb *RedisBus) startRelayLocked(eventType events.EventType) {
	if _, exists := rb.relays[eventType]; exists {
		return
	}
	pubsub := rb.client.Subscribe(rb.ctx, redisChannelPrefix+string(eventType))
	rb.relays[eventType] = pubsub
	rb.wg.Add(1)
	go rb.receiveMessages(eventType, pubsub)
}

// receiveMessages relays one event type's Redis channel into the local
// bus until the pubsub or the bus shuts down.
func (rb *RedisBus) receiveMessages(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			redisMsg, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to unmarshal event")
				continue
			}
			// Skip our own messages, they were already delivered locally.
			if redisMsg.NodeID == rb.nodeID {
				continue
			}
			rb.local.Deliver(redisMsg.EventType, redisMsg.Payload)
		}
	}
}

// redisMessage is the wire envelope for cluster events.
type redisMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(redisMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
	})
}

func unmarshalMessage(data []byte) (*redisMessage, error) {
	var msg redisMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal redis message: %w", err)
	}
	return &msg, nil
}
