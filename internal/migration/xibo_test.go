package migration

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestXiboValidate_RequiresDSN(t *testing.T) {
	importer := &XiboImporter{logger: zerolog.Nop()}
	err := importer.Validate(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected validation error for missing DSN")
	}
	if !strings.Contains(err.Error(), "xibo_dsn") {
		t.Fatalf("error should name the missing field, got %q", err.Error())
	}
}

func TestXiboRecurrenceToRRule(t *testing.T) {
	cases := []struct {
		recurrence string
		detail     int64
		want       string
		wantWarn   bool
	}{
		{"", 0, "", false},
		{"day", 1, "FREQ=DAILY;INTERVAL=1", false},
		{"day", 0, "FREQ=DAILY;INTERVAL=1", false},
		{"week", 2, "FREQ=WEEKLY;INTERVAL=2", false},
		{"month", 1, "FREQ=MONTHLY;INTERVAL=1", false},
		{"year", 1, "FREQ=YEARLY;INTERVAL=1", false},
		{"Week", 1, "FREQ=WEEKLY;INTERVAL=1", false},
		{"minute", 30, "", true},
		{"hour", 1, "", true},
	}
	for _, tc := range cases {
		got, warn := xiboRecurrenceToRRule(tc.recurrence, tc.detail)
		if got != tc.want {
			t.Errorf("xiboRecurrenceToRRule(%q, %d) = %q, want %q", tc.recurrence, tc.detail, got, tc.want)
		}
		if tc.wantWarn && warn == "" {
			t.Errorf("xiboRecurrenceToRRule(%q, %d) should warn", tc.recurrence, tc.detail)
		}
		if !tc.wantWarn && warn != "" {
			t.Errorf("xiboRecurrenceToRRule(%q, %d) warned unexpectedly: %q", tc.recurrence, tc.detail, warn)
		}
	}
}

func TestNormalizeColor(t *testing.T) {
	cases := map[string]string{
		"":        "#000000",
		"  ":      "#000000",
		"000000":  "#000000",
		"ffcc00":  "#ffcc00",
		"#1a2b3c": "#1a2b3c",
	}
	for in, want := range cases {
		if got := normalizeColor(in); got != want {
			t.Errorf("normalizeColor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundPositive(t *testing.T) {
	cases := []struct {
		v        float64
		fallback int
		want     int
	}{
		{1920, 100, 1920},
		{1919.6, 100, 1920},
		{0, 1080, 1080},
		{-4, 1080, 1080},
		{0.4, 720, 720},
	}
	for _, tc := range cases {
		if got := roundPositive(tc.v, tc.fallback); got != tc.want {
			t.Errorf("roundPositive(%v, %d) = %d, want %d", tc.v, tc.fallback, got, tc.want)
		}
	}
}
