/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// PlayerState persists one screen's playback session so a restarted
// server can resume what each screen was doing. It is written on every
// session transition, not per tick; elapsed time is deliberately not
// stored, a resumed session restarts its playlist from the top.
type PlayerState struct {
	ScreenID   string `gorm:"type:uuid;primaryKey"`
	PlaylistID string `gorm:"type:uuid"`
	LayoutID   string `gorm:"type:uuid"`
	Status     string `gorm:"type:varchar(16)"`
	CycleCount int
	UpdatedAt  time.Time
}
