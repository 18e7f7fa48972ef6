/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

func newExportFixture(t *testing.T) (*gorm.DB, *ExportService) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(&models.Screen{}, &models.Playlist{}, &models.ScheduleEntry{})
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db, NewExportService(db, zerolog.Nop())
}

func seedExportEntry(t *testing.T, db *gorm.DB, entry models.ScheduleEntry) {
	t.Helper()
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed entry %s: %v", entry.ID, err)
	}
}

func TestExportICalRecurringEntry(t *testing.T) {
	db, svc := newExportFixture(t)

	screen := models.Screen{ID: "screen-1", Name: "Lobby East", Active: true}
	if err := db.Create(&screen).Error; err != nil {
		t.Fatalf("seed screen: %v", err)
	}
	playlist := models.Playlist{ID: "pl-1", Name: "Morning Loop"}
	if err := db.Create(&playlist).Error; err != nil {
		t.Fatalf("seed playlist: %v", err)
	}

	until := time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC)
	seedExportEntry(t, db, models.ScheduleEntry{
		ID:              "entry-1",
		ScreenID:        screen.ID,
		PlaylistID:      playlist.ID,
		Name:            "Weekday mornings",
		Color:           "#2563eb",
		RRule:           "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR",
		DTStart:         time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
		DTEnd:           &until,
		Timezone:        "UTC",
		DurationMinutes: 120,
		Priority:        models.PriorityRegular,
		Active:          true,
	})

	result, err := svc.ExportICal(context.Background(), "")
	if err != nil {
		t.Fatalf("ExportICal: %v", err)
	}

	if result.ContentType != "text/calendar; charset=utf-8" {
		t.Errorf("content type: got %q", result.ContentType)
	}
	if result.Filename != "signage-schedule.ics" {
		t.Errorf("filename: got %q", result.Filename)
	}

	ical := string(result.Data)
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"PRODID:-//Heimdall Signage//Schedule//EN",
		"UID:entry-1@heimdall",
		"DTSTART:20260302T080000Z",
		"DTEND:20260302T100000Z",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR;UNTIL=20260630T000000Z",
		"SUMMARY:Weekday mornings",
		"LOCATION:Lobby East",
		"DESCRIPTION:Playlist: Morning Loop",
		"CATEGORIES:Regular",
		"X-APPLE-CALENDAR-COLOR:#2563eb",
		"END:VCALENDAR",
	} {
		if !strings.Contains(ical, want) {
			t.Errorf("ical missing %q:\n%s", want, ical)
		}
	}
}

func TestExportICalSkipsInactiveEntries(t *testing.T) {
	db, svc := newExportFixture(t)

	seedExportEntry(t, db, models.ScheduleEntry{
		ID: "entry-live", ScreenID: "s1", PlaylistID: "p1", Name: "Live",
		DTStart: time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
		Active:  true, DurationMinutes: 30, Timezone: "UTC",
	})
	seedExportEntry(t, db, models.ScheduleEntry{
		ID: "entry-dead", ScreenID: "s1", PlaylistID: "p1", Name: "Retired",
		DTStart: time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
		Active:  false, DurationMinutes: 30, Timezone: "UTC",
	})

	result, err := svc.ExportICal(context.Background(), "")
	if err != nil {
		t.Fatalf("ExportICal: %v", err)
	}

	ical := string(result.Data)
	if !strings.Contains(ical, "UID:entry-live@heimdall") {
		t.Error("active entry missing from export")
	}
	if strings.Contains(ical, "entry-dead") {
		t.Error("inactive entry leaked into export")
	}
}

func TestExportICalScreenScope(t *testing.T) {
	db, svc := newExportFixture(t)

	screen := models.Screen{ID: "screen-a", Name: "Café Wall 2", Active: true}
	if err := db.Create(&screen).Error; err != nil {
		t.Fatalf("seed screen: %v", err)
	}

	seedExportEntry(t, db, models.ScheduleEntry{
		ID: "entry-a", ScreenID: "screen-a", PlaylistID: "p1", Name: "Here",
		DTStart: time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
		Active:  true, DurationMinutes: 30, Timezone: "UTC",
	})
	seedExportEntry(t, db, models.ScheduleEntry{
		ID: "entry-b", ScreenID: "screen-b", PlaylistID: "p1", Name: "Elsewhere",
		DTStart: time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
		Active:  true, DurationMinutes: 30, Timezone: "UTC",
	})

	result, err := svc.ExportICal(context.Background(), "screen-a")
	if err != nil {
		t.Fatalf("ExportICal: %v", err)
	}

	if result.Filename != "caf-wall-2-schedule.ics" {
		t.Errorf("filename: got %q", result.Filename)
	}

	ical := string(result.Data)
	if !strings.Contains(ical, "UID:entry-a@heimdall") {
		t.Error("scoped entry missing from export")
	}
	if strings.Contains(ical, "entry-b") {
		t.Error("entry from another screen leaked into scoped export")
	}

	if _, err := svc.ExportICal(context.Background(), "missing-screen"); err == nil {
		t.Error("expected error for unknown screen")
	}
}

func TestExportRRuleBoundedRulePassthrough(t *testing.T) {
	until := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		entry models.ScheduleEntry
		want  string
	}{
		{
			name:  "no rule",
			entry: models.ScheduleEntry{},
			want:  "",
		},
		{
			name:  "unbounded rule without end date",
			entry: models.ScheduleEntry{RRule: "FREQ=DAILY"},
			want:  "FREQ=DAILY",
		},
		{
			name:  "unbounded rule gains UNTIL from end date",
			entry: models.ScheduleEntry{RRule: "FREQ=DAILY", DTEnd: &until},
			want:  "FREQ=DAILY;UNTIL=20260701T000000Z",
		},
		{
			name:  "rule with COUNT stays untouched",
			entry: models.ScheduleEntry{RRule: "FREQ=DAILY;COUNT=10", DTEnd: &until},
			want:  "FREQ=DAILY;COUNT=10",
		},
		{
			name:  "rule with its own UNTIL stays untouched",
			entry: models.ScheduleEntry{RRule: "FREQ=DAILY;UNTIL=20260401T000000Z", DTEnd: &until},
			want:  "FREQ=DAILY;UNTIL=20260401T000000Z",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := exportRRule(&tc.entry); got != tc.want {
				t.Errorf("exportRRule: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestExportICalEscapesText(t *testing.T) {
	db, svc := newExportFixture(t)

	seedExportEntry(t, db, models.ScheduleEntry{
		ID: "entry-esc", ScreenID: "s1", PlaylistID: "p1",
		Name:    "Sale; 50% off, today",
		DTStart: time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
		Active:  true, DurationMinutes: 30, Timezone: "UTC",
	})

	result, err := svc.ExportICal(context.Background(), "")
	if err != nil {
		t.Fatalf("ExportICal: %v", err)
	}

	if !strings.Contains(string(result.Data), `SUMMARY:Sale\; 50% off\, today`) {
		t.Errorf("summary not escaped:\n%s", result.Data)
	}
}
