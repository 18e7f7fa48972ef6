/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of an import job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// SourceType represents the type of system being migrated from.
type SourceType string

const (
	SourceTypeXibo     SourceType = "xibo"
	SourceTypeScreenly SourceType = "screenly"
)

// Job represents an import job.
type Job struct {
	ID            string         `json:"id" gorm:"primaryKey"`
	SourceType    SourceType     `json:"source_type" gorm:"type:varchar(50);not null"`
	Status        JobStatus      `json:"status" gorm:"type:varchar(50);not null;default:'pending'"`
	DryRun        bool           `json:"dry_run" gorm:"not null;default:false"`
	Options       Options        `json:"options" gorm:"type:jsonb"`
	Progress      Progress       `json:"progress" gorm:"type:jsonb"`
	Result        *Result        `json:"result,omitempty" gorm:"type:jsonb"`
	AnomalyReport *AnomalyReport `json:"anomaly_report,omitempty" gorm:"type:jsonb"`
	Error         string         `json:"error,omitempty" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName keeps import jobs apart from the probe queue.
func (Job) TableName() string {
	return "import_jobs"
}

// Options contains import-specific configuration.
type Options struct {
	// Internal tracking
	JobID string `json:"job_id,omitempty"` // Filled by the service when creating a job

	// Common options
	DryRun        bool `json:"dry_run"`
	SkipMedia     bool `json:"skip_media"`
	SkipSchedules bool `json:"skip_schedules"`

	// Xibo options (direct database access)
	XiboDSN       string `json:"xibo_dsn,omitempty"`
	XiboMediaPath string `json:"xibo_media_path,omitempty"`

	// Screenly OSE options
	ScreenlyDBPath    string `json:"screenly_db_path,omitempty"`
	ScreenlyMediaPath string `json:"screenly_media_path,omitempty"`

	// Import context
	ImportingUserID string `json:"importing_user_id,omitempty"`

	// Post-import duration verification policy.
	// false: warn and continue (default)
	// true: fail import if imported videos end up with no known duration
	DurationVerifyStrict bool `json:"duration_verify_strict,omitempty"`
}

// Progress tracks import progress.
type Progress struct {
	Phase              string    `json:"phase"`
	CurrentStep        string    `json:"current_step"`
	ScreensTotal       int       `json:"screens_total"`
	ScreensImported    int       `json:"screens_imported"`
	LayoutsTotal       int       `json:"layouts_total"`
	LayoutsImported    int       `json:"layouts_imported"`
	ContentTotal       int       `json:"content_total"`
	ContentImported    int       `json:"content_imported"`
	FilesCopied        int       `json:"files_copied"`
	PlaylistsTotal     int       `json:"playlists_total"`
	PlaylistsImported  int       `json:"playlists_imported"`
	SchedulesTotal     int       `json:"schedules_total"`
	SchedulesImported  int       `json:"schedules_imported"`
	Percentage         float64   `json:"percentage"`
	EstimatedRemaining string    `json:"estimated_remaining,omitempty"`
	StartTime          time.Time `json:"start_time"`
}

// Result contains the final import results.
type Result struct {
	ScreensCreated       int                `json:"screens_created"`
	LayoutsCreated       int                `json:"layouts_created"`
	ContentItemsImported int                `json:"content_items_imported"`
	PlaylistsCreated     int                `json:"playlists_created"`
	SchedulesCreated     int                `json:"schedules_created"`
	Warnings             []string           `json:"warnings,omitempty"`
	Skipped              map[string]int     `json:"skipped,omitempty"`
	Mappings             map[string]Mapping `json:"mappings,omitempty"`
	DurationSeconds      float64            `json:"duration_seconds"`
}

// AnomalyClass identifies a grouped anomaly category in import reporting.
type AnomalyClass string

const (
	AnomalyClassMissingFiles    AnomalyClass = "missing_files"
	AnomalyClassDuration        AnomalyClass = "duration"
	AnomalyClassRecurrence      AnomalyClass = "recurrence"
	AnomalyClassUnsupportedType AnomalyClass = "unsupported_type"
	AnomalyClassSkippedEntities AnomalyClass = "skipped_entities"
)

// AnomalyBucket stores count + examples for a specific anomaly class.
type AnomalyBucket struct {
	Count    int      `json:"count"`
	Examples []string `json:"examples,omitempty"`
}

// AnomalyReport is a per-job anomaly artifact for operator visibility.
type AnomalyReport struct {
	GeneratedAt time.Time                      `json:"generated_at"`
	Total       int                            `json:"total"`
	ByClass     map[AnomalyClass]AnomalyBucket `json:"by_class,omitempty"`
}

// Value implements driver.Valuer for database serialization.
func (r AnomalyReport) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database deserialization.
func (r *AnomalyReport) Scan(value interface{}) error {
	if value == nil {
		*r = AnomalyReport{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal AnomalyReport: expected []byte or string, got %T", value)
	}
	if err := json.Unmarshal(bytes, r); err != nil {
		return fmt.Errorf("failed to unmarshal AnomalyReport: %v", value)
	}
	if r.ByClass == nil {
		r.ByClass = map[AnomalyClass]AnomalyBucket{}
	}
	return nil
}

// Mapping tracks ID mappings from source to target system.
type Mapping struct {
	OldID   string `json:"old_id"`
	NewID   string `json:"new_id"`
	Type    string `json:"type"` // screen, layout, content, playlist, schedule
	Name    string `json:"name"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Importer defines the interface for migration importers.
type Importer interface {
	// Validate checks if the migration can proceed with the given options.
	Validate(ctx context.Context, options Options) error

	// Analyze performs a dry-run analysis without making changes.
	Analyze(ctx context.Context, options Options) (*Result, error)

	// Import performs the actual migration.
	Import(ctx context.Context, options Options, progressCallback ProgressCallback) (*Result, error)
}

// ProgressCallback is called during migration to report progress.
type ProgressCallback func(progress Progress)

// ValidationError represents a validation error with details.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// Scanner/Valuer interfaces for GORM JSONB support

// Value implements driver.Valuer for Options
func (o Options) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// Scan implements sql.Scanner for Options
func (o *Options) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal Options: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, o)
}

// Value implements driver.Valuer for Progress
func (p Progress) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for Progress
func (p *Progress) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal Progress: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, p)
}

// Value implements driver.Valuer for Result
func (r Result) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for Result
func (r *Result) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal Result: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, r)
}

func (s SourceType) String() string {
	return string(s)
}
