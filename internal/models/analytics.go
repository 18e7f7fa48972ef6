/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// NilUUIDString is a valid UUID literal used as a sentinel "no UUID" value in
// places where we want NOT NULL uuid columns but still need a "none"
// representation (e.g. screen-scope rollup rows have no content id).
const NilUUIDString = "00000000-0000-0000-0000-000000000000"

// UptimeSample stores time-series presence snapshots for a screen.
type UptimeSample struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	ScreenID   string    `gorm:"type:uuid;index;not null" json:"screen_id"`
	Online     bool      `gorm:"not null" json:"online"`
	CapturedAt time.Time `gorm:"index;not null" json:"captured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (UptimeSample) TableName() string {
	return "uptime_samples"
}

// PlayLogDaily stores daily proof-of-play rollups derived from play_logs.
// Scope determines whether the row summarizes one content item or one
// screen; the unused id column holds NilUUIDString so the unique index
// stays NOT NULL.
type PlayLogDaily struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Date      time.Time `gorm:"type:date;not null;uniqueIndex:idx_play_log_daily,priority:1" json:"date"`
	Scope     string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_play_log_daily,priority:2" json:"scope"` // "content"|"screen"
	ScreenID  string    `gorm:"type:uuid;not null;default:'00000000-0000-0000-0000-000000000000';uniqueIndex:idx_play_log_daily,priority:3" json:"screen_id,omitempty"`
	ContentID string    `gorm:"type:uuid;not null;default:'00000000-0000-0000-0000-000000000000';uniqueIndex:idx_play_log_daily,priority:4" json:"content_id,omitempty"`

	ContentName string      `gorm:"index" json:"content_name,omitempty"`
	ContentType ContentType `gorm:"type:varchar(16)" json:"content_type,omitempty"`

	Plays           int `json:"plays"`
	TotalSeconds    int `json:"total_seconds"`
	ScreensReached  int `json:"screens_reached,omitempty"`
	DistinctContent int `json:"distinct_content,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (PlayLogDaily) TableName() string {
	return "play_log_daily"
}

// ContentPlayReport represents aggregated proof-of-play metrics for one
// content item.
type ContentPlayReport struct {
	ContentID      string  `json:"content_id"`
	ContentName    string  `json:"content_name"`
	ContentType    string  `json:"content_type"`
	Plays          int     `json:"plays"`
	TotalSeconds   int     `json:"total_seconds"`
	ScreensReached int     `json:"screens_reached"`
	TrendPercent   float64 `json:"trend_percent"` // Change vs previous period
}

// ScreenPlayReport represents aggregated playback activity for one screen.
type ScreenPlayReport struct {
	ScreenID        string `json:"screen_id"`
	ScreenName      string `json:"screen_name"`
	Plays           int    `json:"plays"`
	TotalSeconds    int    `json:"total_seconds"`
	DistinctContent int    `json:"distinct_content"`
}

// TimeSlotPlays represents playback volume for a weekly time slot.
type TimeSlotPlays struct {
	DayOfWeek    int `json:"day_of_week"` // 0=Sunday, 6=Saturday
	Hour         int `json:"hour"`        // 0-23
	Plays        int `json:"plays"`
	TotalSeconds int `json:"total_seconds"`
}

// ScreenUptimeReport summarizes presence samples for one screen.
type ScreenUptimeReport struct {
	ScreenID      string     `json:"screen_id"`
	ScreenName    string     `json:"screen_name"`
	OnlinePercent float64    `json:"online_percent"`
	SampleCount   int        `json:"sample_count"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
}
