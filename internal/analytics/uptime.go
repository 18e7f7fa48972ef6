/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// PresenceSource is implemented by components that know which screens
// currently have a live player connection.
type PresenceSource interface {
	OnlineScreenIDs(ctx context.Context) ([]string, error)
}

// UptimeSampler periodically captures per-screen presence snapshots for
// uptime analytics.
type UptimeSampler struct {
	db       *gorm.DB
	presence PresenceSource
	logger   zerolog.Logger

	interval  time.Duration
	retention time.Duration
}

// NewUptimeSampler creates a new presence snapshot sampler.
func NewUptimeSampler(db *gorm.DB, presence PresenceSource, logger zerolog.Logger) *UptimeSampler {
	return &UptimeSampler{
		db:        db,
		presence:  presence,
		logger:    logger.With().Str("component", "uptime_sampler").Logger(),
		interval:  time.Minute,
		retention: 30 * 24 * time.Hour,
	}
}

// Start begins periodic presence snapshot capture.
func (s *UptimeSampler) Start(ctx context.Context) {
	if s.presence == nil {
		s.logger.Warn().Msg("uptime sampling disabled: no presence source available")
		return
	}

	s.logger.Info().Dur("interval", s.interval).Dur("retention", s.retention).Msg("uptime sampler started")

	// Capture once immediately so data appears quickly after startup.
	s.capture(ctx, time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("uptime sampler stopped")
			return
		case t := <-ticker.C:
			s.capture(ctx, t)
			s.pruneOldSamples(ctx, t)
		}
	}
}

func (s *UptimeSampler) capture(ctx context.Context, now time.Time) {
	var screens []models.Screen
	if err := s.db.WithContext(ctx).Select("id").Where("active = ?", true).Find(&screens).Error; err != nil {
		s.logger.Warn().Err(err).Msg("failed to load screens for uptime snapshot")
		return
	}
	if len(screens) == 0 {
		return
	}

	onlineIDs, err := s.presence.OnlineScreenIDs(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read screen presence")
		return
	}
	online := make(map[string]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = true
	}

	for _, screen := range screens {
		sample := models.UptimeSample{
			ID:         uuid.NewString(),
			ScreenID:   screen.ID,
			Online:     online[screen.ID],
			CapturedAt: now.UTC(),
			CreatedAt:  now.UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&sample).Error; err != nil {
			s.logger.Warn().Err(err).Str("screen_id", screen.ID).Msg("failed to store uptime snapshot")
		}
	}
}

func (s *UptimeSampler) pruneOldSamples(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.retention).UTC()
	if err := s.db.WithContext(ctx).Where("captured_at < ?", cutoff).Delete(&models.UptimeSample{}).Error; err != nil {
		s.logger.Warn().Err(err).Msg("failed to prune old uptime samples")
	}
}
