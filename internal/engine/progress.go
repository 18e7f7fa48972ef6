/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import "time"

// RegionProgress summarizes how far one region is through its list,
// computed from the same duration resolution the sequencer schedules
// with. Detected video durations refine these numbers between calls.
type RegionProgress struct {
	RegionID         string  `json:"region_id"`
	RegionName       string  `json:"region_name"`
	Index            int     `json:"index"`
	TotalItems       int     `json:"total_items"`
	ItemName         string  `json:"item_name"`
	ItemProgress     float64 `json:"item_progress"`  // 0-100 within the current item
	CycleProgress    float64 `json:"cycle_progress"` // 0-100 across the whole list
	RemainingSeconds float64 `json:"remaining_seconds"`
	Exhausted        bool    `json:"exhausted"`
}

// Progress reports per-region progress at the engine's current time.
func (e *Engine) Progress() []RegionProgress {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	out := make([]RegionProgress, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, regionProgress(e.regions[id], now))
	}
	return out
}

func regionProgress(s *sequencer, now time.Duration) RegionProgress {
	p := RegionProgress{
		RegionID:   s.region.ID,
		RegionName: s.region.Name,
		Index:      s.index,
		TotalItems: len(s.items),
		Exhausted:  s.exhausted,
	}

	total := s.totalDuration()
	if total <= 0 {
		return p
	}

	if s.exhausted {
		p.ItemProgress = 100
		p.CycleProgress = 100
		return p
	}
	if s.current == nil {
		// Not started yet
		p.RemainingSeconds = total.Seconds()
		return p
	}

	p.ItemName = s.current.item.Name

	// For a running video whose real duration arrived after it started,
	// progress uses the refined value rather than the placeholder the
	// timer was armed with.
	itemDuration := s.resolveDuration(s.index)
	if itemDuration <= 0 {
		itemDuration = s.current.duration
	}

	elapsedInItem := now - s.current.startedAt
	if elapsedInItem < 0 {
		elapsedInItem = 0
	}
	if elapsedInItem > itemDuration {
		elapsedInItem = itemDuration
	}

	p.ItemProgress = 100 * float64(elapsedInItem) / float64(itemDuration)

	consumed := s.elapsedBefore(s.index) + elapsedInItem
	if consumed > total {
		consumed = total
	}
	p.CycleProgress = 100 * float64(consumed) / float64(total)
	p.RemainingSeconds = (total - consumed).Seconds()
	return p
}
