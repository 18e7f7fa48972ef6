/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// ExportService renders schedule entries as an iCalendar feed so
// operators can overlay the signage calendar on their own tooling.
type ExportService struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewExportService creates a schedule export service.
func NewExportService(db *gorm.DB, logger zerolog.Logger) *ExportService {
	return &ExportService{
		db:     db,
		logger: logger.With().Str("component", "schedule_export").Logger(),
	}
}

// ExportResult is a rendered export ready to hand to the HTTP layer.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportICal renders active schedule entries as RFC 5545 VEVENTs.
// Recurring entries keep their RRULE instead of being expanded, so a
// subscribing calendar computes every future occurrence itself. An
// empty screenID exports the whole fleet.
func (e *ExportService) ExportICal(ctx context.Context, screenID string) (*ExportResult, error) {
	query := e.db.WithContext(ctx).
		Where("active = ?", true).
		Preload("Screen").
		Preload("Playlist").
		Order("priority ASC, dt_start ASC")

	calName := "Signage Schedule"
	fileBase := "signage-schedule"
	if screenID != "" {
		var screen models.Screen
		if err := e.db.WithContext(ctx).First(&screen, "id = ?", screenID).Error; err != nil {
			return nil, fmt.Errorf("load screen: %w", err)
		}
		query = query.Where("screen_id = ?", screenID)
		calName = screen.Name + " Schedule"
		fileBase = slugify(screen.Name) + "-schedule"
	}

	var entries []models.ScheduleEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load schedule entries: %w", err)
	}

	var ical strings.Builder
	ical.WriteString("BEGIN:VCALENDAR\r\n")
	ical.WriteString("VERSION:2.0\r\n")
	ical.WriteString("PRODID:-//Heimdall Signage//Schedule//EN\r\n")
	fmt.Fprintf(&ical, "X-WR-CALNAME:%s\r\n", escapeICalText(calName))
	ical.WriteString("CALSCALE:GREGORIAN\r\n")
	ical.WriteString("METHOD:PUBLISH\r\n")

	now := time.Now()
	for i := range entries {
		writeEntryEvent(&ical, &entries[i], now)
	}

	ical.WriteString("END:VCALENDAR\r\n")

	e.logger.Debug().
		Int("entries", len(entries)).
		Str("screen_id", screenID).
		Msg("schedule exported to ical")

	return &ExportResult{
		Filename:    fileBase + ".ics",
		ContentType: "text/calendar; charset=utf-8",
		Data:        []byte(ical.String()),
	}, nil
}

// writeEntryEvent emits one VEVENT. DTSTART and DTEND describe the
// first occurrence; the RRULE carries the repetition, with the entry's
// end date folded in as UNTIL when the stored rule does not bound
// itself.
func writeEntryEvent(b *strings.Builder, entry *models.ScheduleEntry, stamp time.Time) {
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(b, "UID:%s@heimdall\r\n", entry.ID)
	fmt.Fprintf(b, "DTSTAMP:%s\r\n", formatICalTime(stamp))
	fmt.Fprintf(b, "DTSTART:%s\r\n", formatICalTime(entry.DTStart))
	occurrenceEnd := entry.DTStart.Add(time.Duration(entry.DurationMinutes) * time.Minute)
	fmt.Fprintf(b, "DTEND:%s\r\n", formatICalTime(occurrenceEnd))
	if rule := exportRRule(entry); rule != "" {
		fmt.Fprintf(b, "RRULE:%s\r\n", rule)
	}
	fmt.Fprintf(b, "SUMMARY:%s\r\n", escapeICalText(entry.Name))
	if entry.Screen != nil {
		fmt.Fprintf(b, "LOCATION:%s\r\n", escapeICalText(entry.Screen.Name))
	}
	if entry.Playlist != nil {
		fmt.Fprintf(b, "DESCRIPTION:%s\r\n", escapeICalText("Playlist: "+entry.Playlist.Name))
	}
	fmt.Fprintf(b, "CATEGORIES:%s\r\n", priorityLabel(entry.Priority))
	if entry.Color != "" {
		fmt.Fprintf(b, "X-APPLE-CALENDAR-COLOR:%s\r\n", entry.Color)
	}
	b.WriteString("END:VEVENT\r\n")
}

// exportRRule returns the recurrence rule to embed. A rule that already
// carries UNTIL or COUNT is passed through untouched.
func exportRRule(entry *models.ScheduleEntry) string {
	rule := strings.TrimSpace(entry.RRule)
	if rule == "" {
		return ""
	}
	upper := strings.ToUpper(rule)
	if entry.DTEnd != nil && !strings.Contains(upper, "UNTIL=") && !strings.Contains(upper, "COUNT=") {
		rule += ";UNTIL=" + formatICalTime(*entry.DTEnd)
	}
	return rule
}

// priorityLabel buckets a numeric priority into its tier name.
func priorityLabel(p models.SchedulePriority) string {
	switch {
	case p <= models.PriorityEmergency:
		return "Emergency"
	case p <= models.PriorityCampaign:
		return "Campaign"
	case p <= models.PriorityRegular:
		return "Regular"
	default:
		return "Fallback"
	}
}

// formatICalTime formats a time for iCal (YYYYMMDDTHHMMSSZ).
func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// escapeICalText escapes text for iCal property values.
func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// slugify converts a name to a filename-safe slug.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	var out strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			out.WriteRune(r)
		}
	}
	return out.String()
}
