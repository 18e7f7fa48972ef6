package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/scheduler"
)

func TestValidateRecurrence(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		timezone string
		want     string
	}{
		{"empty rule valid", "", "UTC", ""},
		{"weekday rule valid", "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR", "Europe/Berlin", ""},
		{"garbage rule", "FREQ=SOMETIMES", "UTC", "invalid_rrule"},
		{"bad timezone", "FREQ=DAILY", "Mars/Olympus", "invalid_timezone"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := validateRecurrence(tc.rule, tc.timezone); got != tc.want {
				t.Fatalf("validateRecurrence(%q, %q): got %q want %q", tc.rule, tc.timezone, got, tc.want)
			}
		})
	}
}

func TestScheduleExportEndpoint(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Screen{}, &models.Playlist{}, &models.ScheduleEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := db.Create(&models.Screen{ID: "scr-1", Name: "Lobby", Active: true}).Error; err != nil {
		t.Fatalf("seed screen: %v", err)
	}
	if err := db.Create(&models.Playlist{ID: "pl-1", Name: "Morning Loop"}).Error; err != nil {
		t.Fatalf("seed playlist: %v", err)
	}
	if err := db.Create(&models.ScheduleEntry{
		ID: "se-1", ScreenID: "scr-1", PlaylistID: "pl-1", Name: "Morning",
		DTStart: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), Timezone: "UTC",
		DurationMinutes: 120, Priority: models.PriorityRegular, Active: true,
	}).Error; err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	a := &API{
		db:          db,
		schedExport: scheduler.NewExportService(db, zerolog.Nop()),
		logger:      zerolog.Nop(),
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/schedules/export/ical", nil)
	a.handleSchedulesExportICal(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status: got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type: got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, ".ics") {
		t.Fatalf("content disposition: got %q", cd)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "SUMMARY:Morning") {
		t.Fatalf("unexpected calendar body:\n%s", body)
	}

	// Unknown screen scope is a 404.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/schedules/export/ical?screen_id=nope", nil)
	a.handleSchedulesExportICal(rr, req)
	if rr.Code != 404 {
		t.Fatalf("unknown screen: got %d want 404", rr.Code)
	}

	// Without the export service the endpoint degrades cleanly.
	a.schedExport = nil
	rr = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/schedules/export/ical", nil)
	a.handleSchedulesExportICal(rr, req)
	if rr.Code != 503 {
		t.Fatalf("nil service: got %d want 503", rr.Code)
	}
}
