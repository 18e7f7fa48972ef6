/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// ProofOfPlayService answers "what played where" questions over the play
// log and maintains the daily rollup table behind them.
type ProofOfPlayService struct {
	db     *gorm.DB
	logger zerolog.Logger

	rollupInterval time.Duration
	logRetention   time.Duration
}

// NewProofOfPlayService creates a new proof-of-play reporting service.
func NewProofOfPlayService(db *gorm.DB, logger zerolog.Logger) *ProofOfPlayService {
	return &ProofOfPlayService{
		db:             db,
		logger:         logger.With().Str("component", "proof_of_play").Logger(),
		rollupInterval: time.Hour,
		logRetention:   90 * 24 * time.Hour,
	}
}

// SetLogRetention overrides how long raw play logs are kept before the
// rollup worker prunes them. Zero keeps the default.
func (s *ProofOfPlayService) SetLogRetention(d time.Duration) {
	if d > 0 {
		s.logRetention = d
	}
}

// Start runs the rollup worker: it periodically aggregates yesterday into
// the daily table and prunes raw play logs past retention. Aggregation is
// an upsert, so repeat runs are harmless.
func (s *ProofOfPlayService) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.rollupInterval).
		Dur("retention", s.logRetention).
		Msg("proof-of-play rollup worker started")

	s.runRollup(ctx, time.Now())

	ticker := time.NewTicker(s.rollupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("proof-of-play rollup worker stopped")
			return
		case t := <-ticker.C:
			s.runRollup(ctx, t)
		}
	}
}

func (s *ProofOfPlayService) runRollup(ctx context.Context, now time.Time) {
	yesterday := now.UTC().AddDate(0, 0, -1)
	if err := s.AggregateDaily(ctx, yesterday); err != nil {
		s.logger.Warn().Err(err).Msg("daily play log aggregation failed")
	}
	if err := s.PruneOldLogs(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("play log retention prune failed")
	}
}

// ReportFilter narrows report queries. A zero ScreenID means all screens.
type ReportFilter struct {
	Start    time.Time
	End      time.Time
	ScreenID string
}

// ContentReport returns per-content play totals for the range, most
// played first. When daily rollups cover the range and no screen filter
// is set, the rollup table serves the query.
func (s *ProofOfPlayService) ContentReport(ctx context.Context, filter ReportFilter) ([]models.ContentPlayReport, error) {
	var results []models.ContentPlayReport

	startDay := truncateDay(filter.Start)
	endDay := truncateDay(filter.End)

	var dailyCount int64
	if filter.ScreenID == "" {
		_ = s.db.WithContext(ctx).Model(&models.PlayLogDaily{}).
			Where("date >= ? AND date < ? AND scope = ?", startDay, endDay, "content").
			Count(&dailyCount).Error
	}

	var err error
	if dailyCount > 0 {
		// Distinct screens cannot be merged across days; report the
		// daily peak instead.
		err = s.db.WithContext(ctx).Raw(`
			SELECT
				content_id,
				MAX(content_name) AS content_name,
				MAX(content_type) AS content_type,
				SUM(plays) AS plays,
				SUM(total_seconds) AS total_seconds,
				MAX(screens_reached) AS screens_reached
			FROM play_log_daily
			WHERE date >= ? AND date < ?
			AND scope = 'content'
			GROUP BY content_id
			ORDER BY plays DESC
		`, startDay, endDay).Scan(&results).Error
	} else {
		query := `
			SELECT
				content_id,
				MAX(content_name) AS content_name,
				MAX(content_type) AS content_type,
				COUNT(*) AS plays,
				COALESCE(SUM(duration) / 1000000000, 0) AS total_seconds,
				COUNT(DISTINCT screen_id) AS screens_reached
			FROM play_logs
			WHERE started_at >= ? AND started_at < ?`
		args := []any{filter.Start, filter.End}
		if filter.ScreenID != "" {
			query += ` AND screen_id = ?`
			args = append(args, filter.ScreenID)
		}
		query += `
			GROUP BY content_id
			ORDER BY plays DESC`
		err = s.db.WithContext(ctx).Raw(query, args...).Scan(&results).Error
	}
	if err != nil {
		return nil, fmt.Errorf("content play report: %w", err)
	}

	s.applyContentTrends(ctx, filter, results)
	return results, nil
}

// applyContentTrends compares each item's play count to the previous
// period of the same length.
func (s *ProofOfPlayService) applyContentTrends(ctx context.Context, filter ReportFilter, results []models.ContentPlayReport) {
	duration := filter.End.Sub(filter.Start)
	if duration <= 0 {
		return
	}
	prevStart := filter.Start.Add(-duration)
	prevEnd := filter.Start

	for i := range results {
		var prevPlays int64
		query := s.db.WithContext(ctx).Model(&models.PlayLog{}).
			Where("content_id = ? AND started_at >= ? AND started_at < ?", results[i].ContentID, prevStart, prevEnd)
		if filter.ScreenID != "" {
			query = query.Where("screen_id = ?", filter.ScreenID)
		}
		if err := query.Count(&prevPlays).Error; err != nil {
			continue
		}
		if prevPlays > 0 {
			results[i].TrendPercent = (float64(results[i].Plays) - float64(prevPlays)) / float64(prevPlays) * 100
		}
	}
}

// ScreenReport returns per-screen playback activity for the range.
func (s *ProofOfPlayService) ScreenReport(ctx context.Context, start, end time.Time) ([]models.ScreenPlayReport, error) {
	var results []models.ScreenPlayReport

	err := s.db.WithContext(ctx).Raw(`
		SELECT
			pl.screen_id,
			COALESCE(MAX(sc.name), '') AS screen_name,
			COUNT(*) AS plays,
			COALESCE(SUM(pl.duration) / 1000000000, 0) AS total_seconds,
			COUNT(DISTINCT pl.content_id) AS distinct_content
		FROM play_logs pl
		LEFT JOIN screens sc ON sc.id = pl.screen_id
		WHERE pl.started_at >= ? AND pl.started_at < ?
		GROUP BY pl.screen_id
		ORDER BY plays DESC
	`, start, end).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("screen play report: %w", err)
	}
	return results, nil
}

// TimeSlotReport returns play volume bucketed by weekday and hour, for
// spotting when screens actually cycle content.
func (s *ProofOfPlayService) TimeSlotReport(ctx context.Context, filter ReportFilter) ([]models.TimeSlotPlays, error) {
	var results []models.TimeSlotPlays

	dowExpr, hourExpr := s.dowHourExprs()
	query := fmt.Sprintf(`
		SELECT
			%s AS day_of_week,
			%s AS hour,
			COUNT(*) AS plays,
			COALESCE(SUM(duration) / 1000000000, 0) AS total_seconds
		FROM play_logs
		WHERE started_at >= ? AND started_at < ?`, dowExpr, hourExpr)
	args := []any{filter.Start, filter.End}
	if filter.ScreenID != "" {
		query += ` AND screen_id = ?`
		args = append(args, filter.ScreenID)
	}
	query += fmt.Sprintf(`
		GROUP BY %s, %s
		ORDER BY day_of_week, hour`, dowExpr, hourExpr)

	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("time slot report: %w", err)
	}
	return results, nil
}

// dowHourExprs returns the SQL for extracting day-of-week (0=Sunday) and
// hour from started_at in the connected dialect.
func (s *ProofOfPlayService) dowHourExprs() (string, string) {
	switch s.db.Dialector.Name() {
	case "sqlite":
		return "CAST(strftime('%w', started_at) AS INTEGER)", "CAST(strftime('%H', started_at) AS INTEGER)"
	case "mysql":
		return "DAYOFWEEK(started_at) - 1", "HOUR(started_at)"
	default:
		return "CAST(EXTRACT(DOW FROM started_at) AS INTEGER)", "CAST(EXTRACT(HOUR FROM started_at) AS INTEGER)"
	}
}

// ScreenUptime reports the share of presence samples in which each screen
// was online. A zero screenID reports every screen with samples.
func (s *ProofOfPlayService) ScreenUptime(ctx context.Context, screenID string, start, end time.Time) ([]models.ScreenUptimeReport, error) {
	var results []models.ScreenUptimeReport

	query := `
		SELECT
			us.screen_id,
			COALESCE(MAX(sc.name), '') AS screen_name,
			AVG(CASE WHEN us.online THEN 1.0 ELSE 0.0 END) * 100 AS online_percent,
			COUNT(*) AS sample_count
		FROM uptime_samples us
		LEFT JOIN screens sc ON sc.id = us.screen_id
		WHERE us.captured_at >= ? AND us.captured_at < ?`
	args := []any{start, end}
	if screenID != "" {
		query += ` AND us.screen_id = ?`
		args = append(args, screenID)
	}
	query += `
		GROUP BY us.screen_id
		ORDER BY online_percent ASC`

	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("screen uptime report: %w", err)
	}

	// Attach last-seen timestamps from the screen rows themselves; the
	// sample table only says online or not.
	for i := range results {
		var screen models.Screen
		if err := s.db.WithContext(ctx).Select("last_seen_at").First(&screen, "id = ?", results[i].ScreenID).Error; err == nil {
			results[i].LastSeenAt = screen.LastSeenAt
		}
	}
	return results, nil
}

// AggregateDaily rolls one day of play logs into play_log_daily, one row
// per content item plus one row per screen.
func (s *ProofOfPlayService) AggregateDaily(ctx context.Context, date time.Time) error {
	day := truncateDay(date)
	next := day.AddDate(0, 0, 1)
	now := time.Now().UTC()

	type contentRow struct {
		ContentID      string
		ContentName    string
		ContentType    string
		Plays          int
		TotalSeconds   int
		ScreensReached int
	}
	var contentRows []contentRow
	if err := s.db.WithContext(ctx).Raw(`
		SELECT
			content_id,
			MAX(content_name) AS content_name,
			MAX(content_type) AS content_type,
			COUNT(*) AS plays,
			COALESCE(SUM(duration) / 1000000000, 0) AS total_seconds,
			COUNT(DISTINCT screen_id) AS screens_reached
		FROM play_logs
		WHERE started_at >= ? AND started_at < ?
		GROUP BY content_id
	`, day, next).Scan(&contentRows).Error; err != nil {
		return fmt.Errorf("daily aggregation query (content): %w", err)
	}

	type screenRow struct {
		ScreenID        string
		Plays           int
		TotalSeconds    int
		DistinctContent int
	}
	var screenRows []screenRow
	if err := s.db.WithContext(ctx).Raw(`
		SELECT
			screen_id,
			COUNT(*) AS plays,
			COALESCE(SUM(duration) / 1000000000, 0) AS total_seconds,
			COUNT(DISTINCT content_id) AS distinct_content
		FROM play_logs
		WHERE started_at >= ? AND started_at < ?
		GROUP BY screen_id
	`, day, next).Scan(&screenRows).Error; err != nil {
		return fmt.Errorf("daily aggregation query (screen): %w", err)
	}

	if len(contentRows) == 0 && len(screenRows) == 0 {
		return nil
	}

	var upserts []models.PlayLogDaily
	for _, r := range contentRows {
		contentID := r.ContentID
		if contentID == "" {
			contentID = models.NilUUIDString
		}
		upserts = append(upserts, models.PlayLogDaily{
			ID:             uuid.NewString(),
			Date:           day,
			Scope:          "content",
			ScreenID:       models.NilUUIDString,
			ContentID:      contentID,
			ContentName:    r.ContentName,
			ContentType:    models.ContentType(r.ContentType),
			Plays:          r.Plays,
			TotalSeconds:   r.TotalSeconds,
			ScreensReached: r.ScreensReached,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	for _, r := range screenRows {
		screenID := r.ScreenID
		if screenID == "" {
			screenID = models.NilUUIDString
		}
		upserts = append(upserts, models.PlayLogDaily{
			ID:              uuid.NewString(),
			Date:            day,
			Scope:           "screen",
			ScreenID:        screenID,
			ContentID:       models.NilUUIDString,
			Plays:           r.Plays,
			TotalSeconds:    r.TotalSeconds,
			DistinctContent: r.DistinctContent,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "date"},
			{Name: "scope"},
			{Name: "screen_id"},
			{Name: "content_id"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"content_name":     gorm.Expr("excluded.content_name"),
			"content_type":     gorm.Expr("excluded.content_type"),
			"plays":            gorm.Expr("excluded.plays"),
			"total_seconds":    gorm.Expr("excluded.total_seconds"),
			"screens_reached":  gorm.Expr("excluded.screens_reached"),
			"distinct_content": gorm.Expr("excluded.distinct_content"),
			"updated_at":       gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&upserts).Error; err != nil {
		return fmt.Errorf("daily aggregation upsert: %w", err)
	}

	s.logger.Info().
		Time("date", day).
		Int("rows", len(upserts)).
		Msg("daily play log rollup aggregated")
	return nil
}

// BackfillDaily runs AggregateDaily for each date in [start, end] inclusive.
func (s *ProofOfPlayService) BackfillDaily(ctx context.Context, start, end time.Time) error {
	startDay := truncateDay(start)
	endDay := truncateDay(end)
	if endDay.Before(startDay) {
		startDay, endDay = endDay, startDay
	}

	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		if err := s.AggregateDaily(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// PruneOldLogs deletes raw play logs past retention. Rollups keep the
// history they summarized.
func (s *ProofOfPlayService) PruneOldLogs(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.logRetention).UTC()
	result := s.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&models.PlayLog{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.logger.Info().Int64("rows", result.RowsAffected).Time("cutoff", cutoff).Msg("pruned old play logs")
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
