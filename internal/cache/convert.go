/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"sort"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// FromScreen flattens a screen row for the screen list cache.
func FromScreen(s *models.Screen) CachedScreen {
	c := CachedScreen{
		ID:          s.ID,
		Name:        s.Name,
		Location:    s.Location,
		Orientation: string(s.Orientation),
		Width:       s.Width,
		Height:      s.Height,
		Timezone:    s.Timezone,
		Active:      s.Active,
	}
	if s.ActiveLayoutID != nil {
		c.ActiveLayoutID = *s.ActiveLayoutID
	}
	return c
}

// FromLayout flattens a layout with its regions.
func FromLayout(l *models.Layout) *CachedLayout {
	c := &CachedLayout{
		ID:           l.ID,
		Name:         l.Name,
		CanvasWidth:  l.CanvasWidth,
		CanvasHeight: l.CanvasHeight,
		Background:   l.Background,
		Regions:      make([]CachedRegion, 0, len(l.Regions)),
	}
	for _, r := range l.Regions {
		c.Regions = append(c.Regions, CachedRegion{
			ID:     r.ID,
			Name:   r.Name,
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
			ZIndex: r.ZIndex,
		})
	}
	return c
}

// FromContentItem flattens a content row for the content cache.
func FromContentItem(m *models.ContentItem) *CachedContentItem {
	c := &CachedContentItem{
		ID:               m.ID,
		Name:             m.Name,
		Type:             string(m.Type),
		StorageKey:       m.StorageKey,
		SourceURI:        m.SourceURI,
		DisplayDuration:  m.DisplayDuration,
		DetectedDuration: m.DetectedDuration,
		IsLive:           m.IsLive,
	}
	if m.FallbackImageID != nil {
		c.FallbackImageID = *m.FallbackImageID
	}
	return c
}

// FromPlaylist flattens a playlist with its assignments, entries sorted
// by position.
func FromPlaylist(p *models.Playlist) *CachedPlaylist {
	c := &CachedPlaylist{
		ID:          p.ID,
		Name:        p.Name,
		LayoutID:    p.LayoutID,
		Assignments: make([]CachedAssignment, 0, len(p.Assignments)),
	}
	for _, a := range p.Assignments {
		ca := CachedAssignment{
			RegionID: a.RegionID,
			Entries:  make([]CachedEntry, 0, len(a.Entries)),
		}
		for _, e := range a.Entries {
			ca.Entries = append(ca.Entries, CachedEntry{
				ContentItemID:    e.ContentItemID,
				Position:         e.Position,
				DurationOverride: e.DurationOverride,
			})
		}
		sort.SliceStable(ca.Entries, func(i, j int) bool {
			return ca.Entries[i].Position < ca.Entries[j].Position
		})
		c.Assignments = append(c.Assignments, ca)
	}
	return c
}
