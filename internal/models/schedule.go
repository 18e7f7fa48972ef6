/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// SchedulePriority orders competing schedule entries; lower wins.
type SchedulePriority int

const (
	PriorityEmergency SchedulePriority = 0  // Manual override, preempts everything
	PriorityCampaign  SchedulePriority = 10 // Time-boxed campaign
	PriorityRegular   SchedulePriority = 50 // Normal recurring schedule
	PriorityFallback  SchedulePriority = 90 // Default layout when nothing else matches
)

// ScheduleEntry binds a playlist to a screen over a recurring window.
type ScheduleEntry struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	ScreenID   string `gorm:"type:uuid;index:idx_schedule_entries_screen;not null"`
	PlaylistID string `gorm:"type:uuid;not null"`
	Name       string `gorm:"type:varchar(255);not null"`
	Color      string `gorm:"type:varchar(7)"`

	// Recurrence (RFC 5545 RRULE), e.g. "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR;BYHOUR=8".
	// DTStart anchors the first occurrence; a NULL DTEnd recurs forever.
	RRule    string     `gorm:"column:rrule;type:text"`
	DTStart  time.Time  `gorm:"not null"`
	DTEnd    *time.Time `gorm:"index:idx_schedule_entries_dtend"`
	Timezone string     `gorm:"type:varchar(64);not null;default:'UTC'"`

	// DurationMinutes is how long each occurrence keeps the playlist on screen.
	DurationMinutes int `gorm:"not null;default:60"`

	Priority SchedulePriority `gorm:"not null;default:50"`
	Active   bool             `gorm:"not null;default:true"`
	Metadata map[string]any   `gorm:"type:jsonb;serializer:json"`

	// Relationships
	Screen   *Screen   `gorm:"foreignKey:ScreenID"`
	Playlist *Playlist `gorm:"foreignKey:PlaylistID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (ScheduleEntry) TableName() string {
	return "schedule_entries"
}

// Window is one concrete occurrence of a schedule entry.
type Window struct {
	EntryID    string
	PlaylistID string
	Priority   SchedulePriority
	StartsAt   time.Time
	EndsAt     time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.StartsAt) && t.Before(w.EndsAt)
}
