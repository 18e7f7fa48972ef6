/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// FileOperations handles asset file copying and verification during imports.
type FileOperations struct {
	mediaService *media.Service
	logger       zerolog.Logger

	// Progress tracking
	mu           sync.Mutex
	totalBytes   int64
	copiedBytes  int64
	totalFiles   int
	copiedFiles  int
	failedFiles  int
	skippedFiles int
}

// NewFileOperations creates a new file operations handler.
func NewFileOperations(mediaService *media.Service, logger zerolog.Logger) *FileOperations {
	return &FileOperations{
		mediaService: mediaService,
		logger:       logger.With().Str("component", "file_ops").Logger(),
	}
}

// CopyOptions configures file copy behavior.
type CopyOptions struct {
	// Source directory (root of the legacy media library)
	SourceRoot string

	// Whether to compute checksums while copying
	ComputeChecksum bool

	// Concurrency level for parallel copies
	Concurrency int

	// Progress callback
	ProgressCallback func(copied, total int)
}

// DefaultCopyOptions returns default copy options.
func DefaultCopyOptions() CopyOptions {
	return CopyOptions{
		ComputeChecksum: true,
		Concurrency:     4,
	}
}

// FileCopyJob represents a single asset copy task.
type FileCopyJob struct {
	SourcePath string
	ContentID  string
	Filename   string
	FileSize   int64
}

// FileCopyResult represents the result of an asset copy operation.
type FileCopyResult struct {
	ContentID   string
	StorageKey  string
	Kind        models.ContentType
	Success     bool
	Error       error
	BytesCopied int64
	Checksum    string
}

// CopyFiles copies multiple asset files with parallel processing.
func (fo *FileOperations) CopyFiles(ctx context.Context, jobs []FileCopyJob, options CopyOptions) ([]FileCopyResult, error) {
	fo.mu.Lock()
	fo.totalFiles = len(jobs)
	fo.copiedFiles = 0
	fo.failedFiles = 0
	fo.skippedFiles = 0
	fo.totalBytes = 0
	fo.copiedBytes = 0
	fo.mu.Unlock()

	for _, job := range jobs {
		fo.totalBytes += job.FileSize
	}

	fo.logger.Info().
		Int("total_files", len(jobs)).
		Int64("total_bytes", fo.totalBytes).
		Int("concurrency", options.Concurrency).
		Msg("starting file copy operation")

	jobChan := make(chan FileCopyJob, len(jobs))
	resultChan := make(chan FileCopyResult, len(jobs))

	var wg sync.WaitGroup

	for i := 0; i < options.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				result := fo.copyFile(ctx, job, options)
				resultChan <- result

				fo.mu.Lock()
				if result.Success {
					fo.copiedFiles++
					fo.copiedBytes += result.BytesCopied
				} else {
					fo.failedFiles++
				}

				if options.ProgressCallback != nil {
					options.ProgressCallback(fo.copiedFiles, fo.totalFiles)
				}
				fo.mu.Unlock()
			}
		}()
	}

	go func() {
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return
			case jobChan <- job:
			}
		}
		close(jobChan)
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var results []FileCopyResult
	for result := range resultChan {
		results = append(results, result)
	}

	fo.logger.Info().
		Int("copied", fo.copiedFiles).
		Int("failed", fo.failedFiles).
		Int64("bytes_copied", fo.copiedBytes).
		Msg("file copy operation complete")

	return results, nil
}

// copyFile copies a single asset file into media storage.
func (fo *FileOperations) copyFile(ctx context.Context, job FileCopyJob, options CopyOptions) FileCopyResult {
	result := FileCopyResult{
		ContentID: job.ContentID,
	}

	if _, err := os.Stat(job.SourcePath); os.IsNotExist(err) {
		result.Error = fmt.Errorf("source file not found: %s", job.SourcePath)
		fo.logger.Warn().
			Str("source", job.SourcePath).
			Str("content_id", job.ContentID).
			Msg("source file not found")
		return result
	}

	sourceFile, err := os.Open(job.SourcePath)
	if err != nil {
		result.Error = fmt.Errorf("open source file: %w", err)
		fo.logger.Error().Err(err).
			Str("source", job.SourcePath).
			Msg("failed to open source file")
		return result
	}
	defer sourceFile.Close()

	if options.ComputeChecksum {
		hash := sha256.New()
		if _, err := io.Copy(hash, sourceFile); err != nil {
			result.Error = fmt.Errorf("calculate checksum: %w", err)
			return result
		}
		result.Checksum = hex.EncodeToString(hash.Sum(nil))

		if _, err := sourceFile.Seek(0, 0); err != nil {
			result.Error = fmt.Errorf("reset file pointer: %w", err)
			return result
		}
	}

	filename := job.Filename
	if filename == "" {
		filename = filepath.Base(job.SourcePath)
	}

	upload, err := fo.mediaService.Upload(ctx, job.ContentID, filename, sourceFile)
	if err != nil {
		result.Error = fmt.Errorf("upload to storage: %w", err)
		fo.logger.Error().Err(err).
			Str("content_id", job.ContentID).
			Msg("failed to upload to storage")
		return result
	}

	result.Success = true
	result.StorageKey = upload.Key
	result.Kind = upload.Kind
	result.BytesCopied = upload.SizeBytes

	fo.logger.Debug().
		Str("source", job.SourcePath).
		Str("storage_key", upload.Key).
		Str("content_id", job.ContentID).
		Int64("bytes", upload.SizeBytes).
		Msg("file copied successfully")

	return result
}

// FileSHA256 returns the hex sha256 of a file on disk.
func FileSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("calculate checksum: %w", err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// GetFileSize returns the size of a file in bytes.
func GetFileSize(filePath string) (int64, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ResolveFilePath resolves a relative file path against a source root.
// Handles various path formats from different systems.
func ResolveFilePath(sourceRoot, relativePath string) string {
	if filepath.IsAbs(relativePath) {
		return relativePath
	}

	clean := filepath.Clean(relativePath)

	return filepath.Join(sourceRoot, clean)
}

// ValidateSourceDirectory checks if a directory exists and is readable.
func ValidateSourceDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	if len(entries) == 0 {
		return fmt.Errorf("directory is empty: %s", dir)
	}

	return nil
}
