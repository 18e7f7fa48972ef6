/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultScreenListTTL  = 5 * time.Minute
	DefaultLayoutTTL      = 1 * time.Hour
	DefaultContentTTL     = 1 * time.Hour
	DefaultPlaylistTTL    = 30 * time.Minute
	DefaultScreenStateTTL = 30 * time.Second
	DefaultWindowsTTL     = 1 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyScreenList  = "heimdall:cache:screens"
	KeyLayout      = "heimdall:cache:layout:"       // + layout_id
	KeyContent     = "heimdall:cache:content:"      // + content_id
	KeyPlaylist    = "heimdall:cache:playlist:"     // + playlist_id
	KeyScreenState = "heimdall:cache:screen_state:" // + screen_id
	KeyWindows     = "heimdall:cache:windows:"      // + screen_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	ScreenListTTL  time.Duration
	LayoutTTL      time.Duration
	ContentTTL     time.Duration
	PlaylistTTL    time.Duration
	ScreenStateTTL time.Duration
	WindowsTTL     time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ScreenListTTL:  DefaultScreenListTTL,
		LayoutTTL:      DefaultLayoutTTL,
		ContentTTL:     DefaultContentTTL,
		PlaylistTTL:    DefaultPlaylistTTL,
		ScreenStateTTL: DefaultScreenStateTTL,
		WindowsTTL:     DefaultWindowsTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// NewDisabled returns a cache that never talks to Redis. Every read
// misses and every write is a no-op, for deployments without Redis.
func NewDisabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it. The bucket name
// labels the hit/miss counters.
func (c *Cache) get(ctx context.Context, bucket, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		telemetry.CacheMissesTotal.WithLabelValues(bucket).Inc()
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		telemetry.CacheMissesTotal.WithLabelValues(bucket).Inc()
		return false, nil
	}

	telemetry.CacheHitsTotal.WithLabelValues(bucket).Inc()
	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Screen caching methods

// CachedScreen represents a cached screen record.
type CachedScreen struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Location       string `json:"location"`
	Orientation    string `json:"orientation"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Timezone       string `json:"timezone"`
	ActiveLayoutID string `json:"active_layout_id"`
	Active         bool   `json:"active"`
}

// GetScreenList retrieves the cached list of screens.
func (c *Cache) GetScreenList(ctx context.Context) ([]CachedScreen, bool) {
	var screens []CachedScreen
	found, err := c.get(ctx, "screen_list", KeyScreenList, &screens)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(screens)).Msg("screen list cache hit")
	return screens, true
}

// SetScreenList caches the list of screens.
func (c *Cache) SetScreenList(ctx context.Context, screens []CachedScreen) error {
	c.logger.Debug().Int("count", len(screens)).Msg("caching screen list")
	return c.set(ctx, KeyScreenList, screens, c.config.ScreenListTTL)
}

// InvalidateScreenList removes the screen list from cache.
func (c *Cache) InvalidateScreenList(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating screen list cache")
	return c.delete(ctx, KeyScreenList)
}

// Layout caching methods

// CachedLayout represents a cached layout with its regions.
type CachedLayout struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CanvasWidth  int            `json:"canvas_width"`
	CanvasHeight int            `json:"canvas_height"`
	Background   string         `json:"background"`
	Regions      []CachedRegion `json:"regions"`
}

// CachedRegion represents one region of a cached layout.
type CachedRegion struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	ZIndex int    `json:"z_index"`
}

// GetLayout retrieves a cached layout by ID.
func (c *Cache) GetLayout(ctx context.Context, layoutID string) (*CachedLayout, bool) {
	var layout CachedLayout
	found, err := c.get(ctx, "layout", KeyLayout+layoutID, &layout)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("layout_id", layoutID).Msg("layout cache hit")
	return &layout, true
}

// SetLayout caches a layout.
func (c *Cache) SetLayout(ctx context.Context, layout *CachedLayout) error {
	c.logger.Debug().Str("layout_id", layout.ID).Msg("caching layout")
	return c.set(ctx, KeyLayout+layout.ID, layout, c.config.LayoutTTL)
}

// InvalidateLayout removes a layout from cache.
func (c *Cache) InvalidateLayout(ctx context.Context, layoutID string) error {
	c.logger.Debug().Str("layout_id", layoutID).Msg("invalidating layout cache")
	return c.delete(ctx, KeyLayout+layoutID)
}

// Content caching methods

// CachedContentItem represents a cached content item record.
type CachedContentItem struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Type             string        `json:"type"`
	StorageKey       string        `json:"storage_key"`
	SourceURI        string        `json:"source_uri"`
	DisplayDuration  time.Duration `json:"display_duration"`
	DetectedDuration time.Duration `json:"detected_duration"`
	IsLive           bool          `json:"is_live"`
	FallbackImageID  string        `json:"fallback_image_id"`
}

// GetContentItem retrieves a cached content item by ID.
func (c *Cache) GetContentItem(ctx context.Context, contentID string) (*CachedContentItem, bool) {
	var item CachedContentItem
	found, err := c.get(ctx, "content", KeyContent+contentID, &item)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("content_id", contentID).Msg("content item cache hit")
	return &item, true
}

// SetContentItem caches a content item.
func (c *Cache) SetContentItem(ctx context.Context, item *CachedContentItem) error {
	c.logger.Debug().Str("content_id", item.ID).Msg("caching content item")
	return c.set(ctx, KeyContent+item.ID, item, c.config.ContentTTL)
}

// InvalidateContentItem removes a content item from cache.
func (c *Cache) InvalidateContentItem(ctx context.Context, contentID string) error {
	c.logger.Debug().Str("content_id", contentID).Msg("invalidating content item cache")
	return c.delete(ctx, KeyContent+contentID)
}

// Playlist caching methods

// CachedPlaylist represents a cached playlist with its region assignments.
type CachedPlaylist struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	LayoutID    string             `json:"layout_id"`
	Assignments []CachedAssignment `json:"assignments"`
}

// CachedAssignment binds an ordered content list to one region.
type CachedAssignment struct {
	RegionID string        `json:"region_id"`
	Entries  []CachedEntry `json:"entries"`
}

// CachedEntry places one content item within an assignment.
type CachedEntry struct {
	ContentItemID    string        `json:"content_item_id"`
	Position         int           `json:"position"`
	DurationOverride time.Duration `json:"duration_override"`
}

// GetPlaylist retrieves a cached playlist by ID.
func (c *Cache) GetPlaylist(ctx context.Context, playlistID string) (*CachedPlaylist, bool) {
	var playlist CachedPlaylist
	found, err := c.get(ctx, "playlist", KeyPlaylist+playlistID, &playlist)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("playlist_id", playlistID).Msg("playlist cache hit")
	return &playlist, true
}

// SetPlaylist caches a playlist.
func (c *Cache) SetPlaylist(ctx context.Context, playlist *CachedPlaylist) error {
	c.logger.Debug().Str("playlist_id", playlist.ID).Msg("caching playlist")
	return c.set(ctx, KeyPlaylist+playlist.ID, playlist, c.config.PlaylistTTL)
}

// InvalidatePlaylist removes a playlist from cache.
func (c *Cache) InvalidatePlaylist(ctx context.Context, playlistID string) error {
	c.logger.Debug().Str("playlist_id", playlistID).Msg("invalidating playlist cache")
	return c.delete(ctx, KeyPlaylist+playlistID)
}

// Screen state caching methods

// CachedRegionState is the currently visible content of one region.
type CachedRegionState struct {
	RegionID    string `json:"region_id"`
	ContentID   string `json:"content_id"`
	ContentName string `json:"content_name"`
	ContentType string `json:"content_type"`
	ItemIndex   int    `json:"item_index"`
	Dark        bool   `json:"dark"`
}

// CachedScreenState is a dashboard-friendly snapshot of a running player.
type CachedScreenState struct {
	ScreenID   string              `json:"screen_id"`
	Status     string              `json:"status"`
	PlaylistID string              `json:"playlist_id"`
	LayoutID   string              `json:"layout_id"`
	CycleCount int                 `json:"cycle_count"`
	EngineTime time.Duration       `json:"engine_time"`
	Regions    []CachedRegionState `json:"regions"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// GetScreenState retrieves the cached playback state for a screen.
func (c *Cache) GetScreenState(ctx context.Context, screenID string) (*CachedScreenState, bool) {
	var state CachedScreenState
	found, err := c.get(ctx, "screen_state", KeyScreenState+screenID, &state)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("screen_id", screenID).Msg("screen state cache hit")
	return &state, true
}

// SetScreenState caches the playback state for a screen.
func (c *Cache) SetScreenState(ctx context.Context, state *CachedScreenState) error {
	return c.set(ctx, KeyScreenState+state.ScreenID, state, c.config.ScreenStateTTL)
}

// InvalidateScreenState removes the playback state for a screen.
func (c *Cache) InvalidateScreenState(ctx context.Context, screenID string) error {
	c.logger.Debug().Str("screen_id", screenID).Msg("invalidating screen state cache")
	return c.delete(ctx, KeyScreenState+screenID)
}

// Schedule window caching methods

// CachedWindow is one resolved schedule occurrence for a screen.
type CachedWindow struct {
	EntryID    string    `json:"entry_id"`
	PlaylistID string    `json:"playlist_id"`
	Priority   int       `json:"priority"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
}

// GetWindows retrieves the cached schedule windows for a screen.
func (c *Cache) GetWindows(ctx context.Context, screenID string) ([]CachedWindow, bool) {
	var windows []CachedWindow
	found, err := c.get(ctx, "windows", KeyWindows+screenID, &windows)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("screen_id", screenID).Int("count", len(windows)).Msg("schedule windows cache hit")
	return windows, true
}

// SetWindows caches the resolved schedule windows for a screen.
func (c *Cache) SetWindows(ctx context.Context, screenID string, windows []CachedWindow) error {
	c.logger.Debug().Str("screen_id", screenID).Int("count", len(windows)).Msg("caching schedule windows")
	return c.set(ctx, KeyWindows+screenID, windows, c.config.WindowsTTL)
}

// InvalidateWindows removes the schedule windows cache for a screen.
func (c *Cache) InvalidateWindows(ctx context.Context, screenID string) error {
	c.logger.Debug().Str("screen_id", screenID).Msg("invalidating schedule windows cache")
	return c.delete(ctx, KeyWindows+screenID)
}

// Bulk invalidation methods

// InvalidateScreen removes all caches related to a screen.
func (c *Cache) InvalidateScreen(ctx context.Context, screenID string) error {
	c.logger.Debug().Str("screen_id", screenID).Msg("invalidating all screen caches")

	if err := c.InvalidateScreenList(ctx); err != nil {
		return err
	}

	if err := c.InvalidateScreenState(ctx, screenID); err != nil {
		return err
	}

	return c.InvalidateWindows(ctx, screenID)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "heimdall:cache:*")
}
