/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package analyzer drains the probe queue: every uploaded asset gets
// inspected server-side so the playback engine has real durations and
// pixel sizes before any player reports them.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

const (
	pollIdle  = 3 * time.Second
	pollError = 2 * time.Second
)

// DurationSink receives probed video durations for sessions already on
// screen. The player manager implements it.
type DurationSink interface {
	ApplyDetectedDuration(contentID string, d time.Duration)
}

// Service is the probe worker. Jobs are claimed with a guarded update
// so multiple nodes can drain the same queue without double work.
type Service struct {
	db      *gorm.DB
	media   *media.Service
	cache   *cache.Cache
	bus     events.PubSub
	sink    DurationSink
	workDir string
	logger  zerolog.Logger
}

// New constructs the probe worker. workDir holds scratch copies of
// objects that need seekable access; empty means the system temp dir.
func New(db *gorm.DB, mediaSvc *media.Service, c *cache.Cache, bus events.PubSub, sink DurationSink, workDir string, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		media:   mediaSvc,
		cache:   c,
		bus:     bus,
		sink:    sink,
		workDir: workDir,
		logger:  logger.With().Str("component", "analyzer").Logger(),
	}
}

// Enqueue registers an uploaded asset for probing.
func (s *Service) Enqueue(ctx context.Context, contentID string) (string, error) {
	job := models.ProbeJob{
		ID:        uuid.NewString(),
		ContentID: contentID,
		Status:    models.ProbePending,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return "", err
	}
	s.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("id = ?", contentID).
		Update("probe_state", models.ProbePending)
	return job.ID, nil
}

// Run drains the probe queue until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Msg("probe loop started")
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info().Msg("probe loop stopped")
			return err
		}

		job, err := s.claimNextJob(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("probe job claim failed")
			wait(ctx, pollError)
			continue
		}
		if job == nil {
			wait(ctx, pollIdle)
			continue
		}

		if err := s.processJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).
				Str("job", job.ID).
				Str("content_id", job.ContentID).
				Msg("probe failed")
		}
	}
}

// claimNextJob picks the oldest pending job and flips it to running.
// The guarded update means a job lost to another node comes back nil.
func (s *Service) claimNextJob(ctx context.Context) (*models.ProbeJob, error) {
	var job models.ProbeJob
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ProbePending).
		Order("created_at ASC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Model(&models.ProbeJob{}).
		Where("id = ? AND status = ?", job.ID, models.ProbePending).
		Update("status", models.ProbeRunning)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	job.Status = models.ProbeRunning
	return &job, nil
}

func (s *Service) processJob(ctx context.Context, job *models.ProbeJob) error {
	var item models.ContentItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", job.ContentID).Error
	if err != nil {
		s.failJob(ctx, job, err)
		return err
	}

	s.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("id = ?", item.ID).
		Update("probe_state", models.ProbeRunning)

	updates := map[string]any{"probe_state": models.ProbeComplete}
	var detected time.Duration
	switch item.Type {
	case models.ContentVideo:
		d, err := s.probeVideo(ctx, &item)
		if err != nil {
			// A failed probe never blocks playback; the engine keeps
			// using its conservative video placeholder.
			s.failJob(ctx, job, err)
			return err
		}
		updates["detected_duration"] = d
		detected = d
	case models.ContentImage:
		w, h, err := s.probeImage(ctx, &item)
		if err != nil {
			s.failJob(ctx, job, err)
			return err
		}
		updates["width"] = w
		updates["height"] = h
	default:
		// Web, text and livestream items carry no probeable asset.
	}

	err = s.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("id = ?", item.ID).
		Updates(updates).Error
	if err != nil {
		s.failJob(ctx, job, err)
		return err
	}

	err = s.db.WithContext(ctx).Model(&models.ProbeJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{"status": models.ProbeComplete, "error": ""}).Error
	if err != nil {
		return err
	}

	if err := s.cache.InvalidateContentItem(ctx, item.ID); err != nil {
		s.logger.Debug().Err(err).Str("content_id", item.ID).Msg("content invalidation failed")
	}
	s.bus.Publish(events.EventContentUpdated, events.Payload{"content_id": item.ID})
	if detected > 0 && s.sink != nil {
		s.sink.ApplyDetectedDuration(item.ID, detected)
	}

	s.logger.Debug().Str("content_id", item.ID).Str("type", string(item.Type)).Msg("probe complete")
	return nil
}

func (s *Service) failJob(ctx context.Context, job *models.ProbeJob, cause error) {
	s.db.WithContext(ctx).
		Model(&models.ProbeJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{"status": models.ProbeFailed, "error": cause.Error()})

	s.db.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("id = ?", job.ContentID).
		Update("probe_state", models.ProbeFailed)
}

// probeVideo extracts the native duration from the stored asset. The
// box scan needs seeking; object storage hands back a plain stream, so
// those get spooled to a scratch file first.
func (s *Service) probeVideo(ctx context.Context, item *models.ContentItem) (time.Duration, error) {
	rc, err := s.media.Open(ctx, item.StorageKey)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if rs, ok := rc.(io.ReadSeeker); ok {
		return media.ProbeVideoDuration(rs)
	}

	tmp, err := os.CreateTemp(s.workDir, "heimdall-probe-*")
	if err != nil {
		return 0, fmt.Errorf("probe scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, rc); err != nil {
		return 0, fmt.Errorf("spool asset: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return media.ProbeVideoDuration(tmp)
}

func (s *Service) probeImage(ctx context.Context, item *models.ContentItem) (int, int, error) {
	rc, err := s.media.Open(ctx, item.StorageKey)
	if err != nil {
		return 0, 0, err
	}
	defer rc.Close()
	return media.ProbeImageSize(rc)
}

// wait sleeps for d unless the context ends first; reports whether the
// full wait elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
