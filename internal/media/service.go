/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media stores and probes content assets. Uploads land in either
// local filesystem storage or an S3-compatible bucket; the probe helpers
// extract native durations and pixel sizes so the playback engine can
// time items without waiting for a player report.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

// Storage abstracts file storage operations.
type Storage interface {
	Store(ctx context.Context, key, contentType string, file io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
	CheckAccess(ctx context.Context) error
}

// Service manages content asset storage.
type Service struct {
	storage Storage
	logger  zerolog.Logger
}

// NewService creates a media service using filesystem or S3 storage based on config.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	var storage Storage

	// Use S3 storage if bucket is configured
	if cfg.S3Bucket != "" {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		}

		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, relying on ambient AWS credentials")
		}

		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		// Default to filesystem storage
		storage = NewFilesystemStorage(cfg.MediaRoot, logger)
	}

	return &Service{
		storage: storage,
		logger:  logger.With().Str("component", "media").Logger(),
	}, nil
}

// UploadResult describes a stored asset.
type UploadResult struct {
	Key       string
	Kind      models.ContentType
	SizeBytes int64
}

// Upload stores an asset for a content item and returns its storage key.
// The content kind is inferred from the filename extension.
func (s *Service) Upload(ctx context.Context, contentID, filename string, file io.Reader) (*UploadResult, error) {
	kind, err := KindForFilename(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	key := buildContentKey(contentID, ext)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	counter := &countingReader{r: file}
	if err := s.storage.Store(ctx, key, contentType, counter); err != nil {
		telemetry.MediaStorageErrorsTotal.WithLabelValues("store").Inc()
		s.logger.Error().Err(err).
			Str("content_id", contentID).
			Str("key", key).
			Msg("media store failed")
		return nil, fmt.Errorf("store media: %w", err)
	}

	telemetry.MediaUploadsTotal.WithLabelValues(string(kind)).Inc()
	s.logger.Info().
		Str("content_id", contentID).
		Str("key", key).
		Int64("size", counter.n).
		Msg("media stored")

	return &UploadResult{Key: key, Kind: kind, SizeBytes: counter.n}, nil
}

// Open returns a reader over a stored asset.
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.storage.Open(ctx, key)
	if err != nil {
		telemetry.MediaStorageErrorsTotal.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("open media: %w", err)
	}
	return rc, nil
}

// Exists reports whether an asset is still present in storage.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.storage.Exists(ctx, key)
	if err != nil {
		telemetry.MediaStorageErrorsTotal.WithLabelValues("exists").Inc()
		return false, fmt.Errorf("stat media: %w", err)
	}
	return ok, nil
}

// Delete removes a stored asset.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.storage.Delete(ctx, key); err != nil {
		telemetry.MediaStorageErrorsTotal.WithLabelValues("delete").Inc()
		s.logger.Error().Err(err).Str("key", key).Msg("media delete failed")
		return fmt.Errorf("delete media: %w", err)
	}

	s.logger.Info().Str("key", key).Msg("media deleted")
	return nil
}

// URL returns the URL players use to fetch a stored asset.
func (s *Service) URL(ctx context.Context, key string) (string, error) {
	return s.storage.URL(ctx, key)
}

// CheckStorageAccess verifies that the storage backend is accessible.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}

// buildContentKey constructs a hierarchical storage key for an asset.
func buildContentKey(contentID, extension string) string {
	// Structure: content/content_id[0:2]/content_id[2:4]/content_id.ext
	// This creates a balanced directory structure to avoid too many files in one dir
	if len(contentID) < 4 {
		return "content/" + contentID + extension
	}
	return "content/" + contentID[0:2] + "/" + contentID[2:4] + "/" + contentID + extension
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".svg":  true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
}

// KindForFilename maps a filename extension to a content kind.
func KindForFilename(filename string) (models.ContentType, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case imageExtensions[ext]:
		return models.ContentImage, nil
	case videoExtensions[ext]:
		return models.ContentVideo, nil
	default:
		return "", fmt.Errorf("unsupported media extension %q", ext)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
