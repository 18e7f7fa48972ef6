/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player hosts one playback engine per screen and bridges
// engine events onto the cluster bus, the proof-of-play log, and the
// screen state cache.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Loader resolves content, playlists, and layouts for engine sessions,
// reading through the cache into the database.
type Loader struct {
	db     *gorm.DB
	cache  *cache.Cache
	media  *media.Service
	logger zerolog.Logger
}

// NewLoader creates a session loader.
func NewLoader(db *gorm.DB, c *cache.Cache, mediaSvc *media.Service, logger zerolog.Logger) *Loader {
	return &Loader{
		db:     db,
		cache:  c,
		media:  mediaSvc,
		logger: logger.With().Str("component", "player_loader").Logger(),
	}
}

// Resolve implements engine.ContentLoader. Unknown IDs return (nil, nil)
// so the engine can skip them; infrastructure failures return an error
// and abort the load.
func (l *Loader) Resolve(ctx context.Context, contentID string) (*engine.Item, error) {
	cached, err := l.contentByID(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, nil
	}
	return l.itemFromCached(ctx, cached)
}

// BuildSession assembles the engine-facing playlist and layout for one
// playlist ID.
func (l *Loader) BuildSession(ctx context.Context, playlistID string) (engine.Playlist, engine.Layout, error) {
	playlist, err := l.playlistByID(ctx, playlistID)
	if err != nil {
		return engine.Playlist{}, engine.Layout{}, err
	}
	if playlist == nil {
		return engine.Playlist{}, engine.Layout{}, fmt.Errorf("playlist %s not found", playlistID)
	}

	layout, err := l.layoutByID(ctx, playlist.LayoutID)
	if err != nil {
		return engine.Playlist{}, engine.Layout{}, err
	}
	if layout == nil {
		return engine.Playlist{}, engine.Layout{}, fmt.Errorf("layout %s not found", playlist.LayoutID)
	}

	ep := engine.Playlist{
		ID:          playlist.ID,
		Name:        playlist.Name,
		Assignments: make([]engine.Assignment, 0, len(playlist.Assignments)),
	}
	for _, a := range playlist.Assignments {
		as := engine.Assignment{
			RegionID:   a.RegionID,
			ContentIDs: make([]string, 0, len(a.Entries)),
		}
		for _, e := range a.Entries {
			as.ContentIDs = append(as.ContentIDs, e.ContentItemID)
			if e.DurationOverride > 0 {
				if as.Overrides == nil {
					as.Overrides = make(map[string]time.Duration)
				}
				as.Overrides[e.ContentItemID] = e.DurationOverride
			}
		}
		ep.Assignments = append(ep.Assignments, as)
	}

	el := engine.Layout{
		ID:         layout.ID,
		Name:       layout.Name,
		Width:      layout.CanvasWidth,
		Height:     layout.CanvasHeight,
		Background: layout.Background,
		Regions:    make([]engine.Region, 0, len(layout.Regions)),
	}
	for _, r := range layout.Regions {
		el.Regions = append(el.Regions, engine.Region{
			ID:     r.ID,
			Name:   r.Name,
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
			ZIndex: r.ZIndex,
		})
	}
	return ep, el, nil
}

// contentByID reads a content item through the cache. A missing row is
// (nil, nil).
func (l *Loader) contentByID(ctx context.Context, contentID string) (*cache.CachedContentItem, error) {
	if cached, ok := l.cache.GetContentItem(ctx, contentID); ok {
		return cached, nil
	}

	var m models.ContentItem
	err := l.db.WithContext(ctx).First(&m, "id = ?", contentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load content %s: %w", contentID, err)
	}

	cached := cache.FromContentItem(&m)
	if err := l.cache.SetContentItem(ctx, cached); err != nil {
		l.logger.Debug().Err(err).Str("content_id", contentID).Msg("content cache write failed")
	}
	return cached, nil
}

func (l *Loader) playlistByID(ctx context.Context, playlistID string) (*cache.CachedPlaylist, error) {
	if cached, ok := l.cache.GetPlaylist(ctx, playlistID); ok {
		return cached, nil
	}

	var m models.Playlist
	err := l.db.WithContext(ctx).
		Preload("Assignments").
		Preload("Assignments.Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&m, "id = ?", playlistID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load playlist %s: %w", playlistID, err)
	}

	cached := cache.FromPlaylist(&m)
	if err := l.cache.SetPlaylist(ctx, cached); err != nil {
		l.logger.Debug().Err(err).Str("playlist_id", playlistID).Msg("playlist cache write failed")
	}
	return cached, nil
}

func (l *Loader) layoutByID(ctx context.Context, layoutID string) (*cache.CachedLayout, error) {
	if cached, ok := l.cache.GetLayout(ctx, layoutID); ok {
		return cached, nil
	}

	var m models.Layout
	err := l.db.WithContext(ctx).
		Preload("Regions", func(db *gorm.DB) *gorm.DB {
			return db.Order("z_index ASC")
		}).
		First(&m, "id = ?", layoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load layout %s: %w", layoutID, err)
	}

	cached := cache.FromLayout(&m)
	if err := l.cache.SetLayout(ctx, cached); err != nil {
		l.logger.Debug().Err(err).Str("layout_id", layoutID).Msg("layout cache write failed")
	}
	return cached, nil
}

// itemFromCached maps a cached content row to the engine's view,
// resolving render URIs against the media storage backend.
func (l *Loader) itemFromCached(ctx context.Context, c *cache.CachedContentItem) (*engine.Item, error) {
	item := &engine.Item{
		ID:       c.ID,
		Name:     c.Name,
		Kind:     engine.ContentKind(c.Type),
		Detected: c.DetectedDuration,
		Live:     c.IsLive,
	}

	switch models.ContentType(c.Type) {
	case models.ContentImage, models.ContentVideo:
		uri, err := l.media.URL(ctx, c.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("resolve media URL for %s: %w", c.ID, err)
		}
		item.URI = uri
	case models.ContentWeb:
		item.URI = c.SourceURI
	case models.ContentLivestream:
		item.URI = c.SourceURI
		item.FallbackURI = l.fallbackURI(ctx, c.FallbackImageID)
	case models.ContentText:
		// Shells fetch the text body and style from the content API.
	default:
		return nil, fmt.Errorf("content %s has unknown type %q", c.ID, c.Type)
	}
	return item, nil
}

// fallbackURI resolves a livestream's fallback image. A broken fallback
// downgrades to none rather than failing the load.
func (l *Loader) fallbackURI(ctx context.Context, fallbackID string) string {
	if fallbackID == "" {
		return ""
	}
	cached, err := l.contentByID(ctx, fallbackID)
	if err != nil || cached == nil {
		l.logger.Warn().Err(err).Str("content_id", fallbackID).Msg("livestream fallback image unavailable")
		return ""
	}
	uri, err := l.media.URL(ctx, cached.StorageKey)
	if err != nil {
		l.logger.Warn().Err(err).Str("content_id", fallbackID).Msg("livestream fallback URL failed")
		return ""
	}
	return uri
}
