/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import "time"

// RegionSnapshot is a point-in-time copy of one region's playback state.
type RegionSnapshot struct {
	RegionID   string        `json:"region_id"`
	RegionName string        `json:"region_name"`
	Index      int           `json:"index"`
	TotalItems int           `json:"total_items"`
	Exhausted  bool          `json:"exhausted"`
	Preloaded  bool          `json:"preloaded"`
	Content    *Item         `json:"content,omitempty"`
	StartedAt  time.Duration `json:"started_at"`
	EndsAt     time.Duration `json:"ends_at"`
	Duration   time.Duration `json:"duration"`
}

// Snapshot is an immutable copy of the engine state. External readers
// always get snapshots, never a handle on the live state.
type Snapshot struct {
	Status      Status           `json:"status"`
	LayoutID    string           `json:"layout_id"`
	LayoutName  string           `json:"layout_name"`
	CurrentTime time.Duration    `json:"current_time"`
	CycleCount  int              `json:"cycle_count"`
	Regions     []RegionSnapshot `json:"regions"`
}

// Snapshot captures the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Status:      e.status,
		LayoutID:    e.layout.ID,
		LayoutName:  e.layout.Name,
		CurrentTime: e.clock.Now(),
		CycleCount:  e.cycleCount,
		Regions:     make([]RegionSnapshot, 0, len(e.order)),
	}

	for _, id := range e.order {
		rs := e.regions[id]
		region := RegionSnapshot{
			RegionID:   rs.region.ID,
			RegionName: rs.region.Name,
			Index:      rs.index,
			TotalItems: len(rs.items),
			Exhausted:  rs.exhausted,
			Preloaded:  rs.preloaded,
		}
		if rs.current != nil {
			item := *rs.current.item
			region.Content = &item
			region.StartedAt = rs.current.startedAt
			region.EndsAt = rs.current.endsAt
			region.Duration = rs.current.duration
		}
		snap.Regions = append(snap.Regions, region)
	}
	return snap
}

// Layout returns the layout of the current session.
func (e *Engine) Layout() Layout {
	e.mu.Lock()
	defer e.mu.Unlock()

	layout := e.layout
	layout.Regions = append([]Region(nil), e.layout.Regions...)
	return layout
}
