/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"testing"
	"time"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

func TestExpandEntryDailyRecurrence(t *testing.T) {
	dtstart := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	entry := models.ScheduleEntry{
		ID:              "entry-daily",
		ScreenID:        "screen-1",
		PlaylistID:      "playlist-1",
		RRule:           "FREQ=DAILY",
		DTStart:         dtstart,
		Timezone:        "UTC",
		DurationMinutes: 120,
		Priority:        models.PriorityRegular,
	}

	lo := time.Date(2026, time.March, 18, 9, 30, 0, 0, time.UTC)
	windows, err := ExpandEntry(entry, lo, lo.Add(26*time.Hour))
	if err != nil {
		t.Fatalf("ExpandEntry: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("windows: got %d want 2 (%+v)", len(windows), windows)
	}

	// The 09:00 occurrence already under way at lo must be included.
	first := windows[0]
	if !first.StartsAt.Equal(time.Date(2026, time.March, 18, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("first start: got %v", first.StartsAt)
	}
	if !first.EndsAt.Equal(first.StartsAt.Add(2 * time.Hour)) {
		t.Fatalf("first end: got %v", first.EndsAt)
	}
	if !first.Contains(lo) {
		t.Fatal("in-progress occurrence does not contain scan start")
	}
	if !windows[1].StartsAt.Equal(time.Date(2026, time.March, 19, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("second start: got %v", windows[1].StartsAt)
	}
}

func TestExpandEntrySingleOccurrence(t *testing.T) {
	start := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	entry := models.ScheduleEntry{
		ID:              "entry-once",
		PlaylistID:      "playlist-1",
		DTStart:         start,
		DurationMinutes: 30,
		Priority:        models.PriorityCampaign,
	}

	windows, err := ExpandEntry(entry, start.Add(10*time.Minute), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpandEntry: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("windows: got %d want 1", len(windows))
	}
	if !windows[0].StartsAt.Equal(start) || !windows[0].EndsAt.Equal(start.Add(30*time.Minute)) {
		t.Fatalf("window: %+v", windows[0])
	}

	// Outside the scan range nothing is produced.
	windows, err = ExpandEntry(entry, start.Add(2*time.Hour), start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ExpandEntry: %v", err)
	}
	if len(windows) != 0 {
		t.Fatalf("expected no windows, got %+v", windows)
	}
}

func TestExpandEntryHonorsDTEnd(t *testing.T) {
	dtstart := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	dtend := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)
	entry := models.ScheduleEntry{
		ID:              "entry-ended",
		PlaylistID:      "playlist-1",
		RRule:           "FREQ=DAILY",
		DTStart:         dtstart,
		DTEnd:           &dtend,
		DurationMinutes: 60,
	}

	windows, err := ExpandEntry(entry, dtstart, dtstart.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("ExpandEntry: %v", err)
	}
	for _, w := range windows {
		if w.StartsAt.After(dtend) {
			t.Fatalf("occurrence past dt_end: %v", w.StartsAt)
		}
	}
	if len(windows) != 2 {
		t.Fatalf("windows: got %d want 2 (Mar 1 and Mar 2)", len(windows))
	}
}

func TestExpandEntryInvalidInputs(t *testing.T) {
	lo := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	if _, err := ExpandEntry(models.ScheduleEntry{
		RRule:   "FREQ=NOPE",
		DTStart: lo,
	}, lo, lo.Add(time.Hour)); err == nil {
		t.Fatal("expected an error for a broken rrule")
	}

	if _, err := ExpandEntry(models.ScheduleEntry{
		Timezone: "Mars/Olympus_Mons",
		DTStart:  lo,
	}, lo, lo.Add(time.Hour)); err == nil {
		t.Fatal("expected an error for an unknown timezone")
	}
}

func TestResolveActivePriorityAndTieBreak(t *testing.T) {
	now := time.Date(2026, time.March, 18, 9, 30, 0, 0, time.UTC)
	mk := func(id string, prio models.SchedulePriority, startOffset time.Duration) models.Window {
		return models.Window{
			EntryID:    id,
			PlaylistID: "pl-" + id,
			Priority:   prio,
			StartsAt:   now.Add(startOffset),
			EndsAt:     now.Add(startOffset).Add(2 * time.Hour),
		}
	}

	tests := []struct {
		name    string
		windows []models.Window
		want    string
	}{
		{
			name: "lowest priority value wins",
			windows: []models.Window{
				mk("regular", models.PriorityRegular, -time.Hour),
				mk("emergency", models.PriorityEmergency, -30*time.Minute),
				mk("campaign", models.PriorityCampaign, -20*time.Minute),
			},
			want: "emergency",
		},
		{
			name: "later start wins within a priority",
			windows: []models.Window{
				mk("early", models.PriorityRegular, -time.Hour),
				mk("late", models.PriorityRegular, -10*time.Minute),
			},
			want: "late",
		},
		{
			name: "windows not covering now are ignored",
			windows: []models.Window{
				mk("future", models.PriorityEmergency, time.Hour),
				mk("current", models.PriorityRegular, -time.Minute),
			},
			want: "current",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveActive(tt.windows, now)
			if got == nil {
				t.Fatal("resolveActive returned nil")
			}
			if got.EntryID != tt.want {
				t.Fatalf("resolved %s, want %s", got.EntryID, tt.want)
			}
		})
	}

	if got := resolveActive(nil, now); got != nil {
		t.Fatalf("empty window set resolved to %+v", got)
	}
}
