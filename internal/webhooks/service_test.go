/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

func newWebhookFixture(t *testing.T) (*gorm.DB, *Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.WebhookTarget{}, &models.WebhookLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db, NewService(db, events.NewBus(), zerolog.Nop())
}

func TestTargetHandlesEvent(t *testing.T) {
	tests := []struct {
		name   string
		events string
		event  string
		want   bool
	}{
		{"empty list means all", "", "screen.offline", true},
		{"single match", "screen.offline", "screen.offline", true},
		{"single miss", "screen.offline", "screen.online", false},
		{"list match with spaces", "screen.online, screen.offline", "screen.offline", true},
		{"list miss", "screen.online,player.error", "schedule.applied", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := models.WebhookTarget{Events: tc.events}
			if got := targetHandlesEvent(target, tc.event); got != tc.want {
				t.Errorf("targetHandlesEvent(%q, %q): got %v want %v", tc.events, tc.event, got, tc.want)
			}
		})
	}
}

func TestDeliverRecordsLogAndSigns(t *testing.T) {
	db, svc := newWebhookFixture(t)

	var gotEvent, gotSig, gotAgent string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Heimdall-Event")
		gotSig = r.Header.Get("X-Heimdall-Signature")
		gotAgent = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	target := models.WebhookTarget{
		ID: "wh-1", Name: "pager", URL: server.URL, Secret: "shared-secret", Active: true,
	}
	if err := db.Create(&target).Error; err != nil {
		t.Fatalf("seed target: %v", err)
	}

	svc.deliver(context.Background(), target, AlertPayload{
		Event:     "screen.offline",
		Timestamp: time.Now().UTC(),
		ScreenID:  "screen-1",
		Data:      map[string]any{"screen_id": "screen-1"},
	})

	if gotEvent != "screen.offline" {
		t.Errorf("event header: got %q", gotEvent)
	}
	if gotAgent != "Heimdall-Signage-Webhook/1.0" {
		t.Errorf("user agent: got %q", gotAgent)
	}
	// The receiver must be able to verify the signature against the
	// exact bytes it read.
	if want := signPayload(gotBody, "shared-secret"); gotSig != want {
		t.Errorf("signature: got %q want %q", gotSig, want)
	}
	if !strings.HasPrefix(gotSig, "sha256=") {
		t.Errorf("signature missing sha256= prefix: %q", gotSig)
	}

	var entry models.WebhookLog
	if err := db.First(&entry, "target_id = ?", "wh-1").Error; err != nil {
		t.Fatalf("load delivery log: %v", err)
	}
	if entry.Event != "screen.offline" {
		t.Errorf("log event: got %q", entry.Event)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("log status: got %d want %d", entry.StatusCode, http.StatusOK)
	}
	if entry.Error != "" {
		t.Errorf("log error: got %q want empty", entry.Error)
	}
	if !strings.Contains(entry.Payload, `"screen.offline"`) {
		t.Errorf("log payload missing event: %s", entry.Payload)
	}
}

func TestDeliverRecordsErrorStatus(t *testing.T) {
	db, svc := newWebhookFixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	target := models.WebhookTarget{ID: "wh-err", Name: "bad", URL: server.URL, Active: true}
	if err := db.Create(&target).Error; err != nil {
		t.Fatalf("seed target: %v", err)
	}

	svc.deliver(context.Background(), target, AlertPayload{Event: "player.error"})

	var entry models.WebhookLog
	if err := db.First(&entry, "target_id = ?", "wh-err").Error; err != nil {
		t.Fatalf("load delivery log: %v", err)
	}
	if entry.StatusCode != http.StatusInternalServerError {
		t.Errorf("log status: got %d", entry.StatusCode)
	}
	if entry.Error != "status 500" {
		t.Errorf("log error: got %q want %q", entry.Error, "status 500")
	}
}

func TestTestWebhookRejectsNon2xx(t *testing.T) {
	_, svc := newWebhookFixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	target := models.WebhookTarget{ID: "wh-test", URL: server.URL}
	if err := svc.TestWebhook(context.Background(), &target); err == nil {
		t.Fatal("expected error for 404 response")
	}

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer okServer.Close()

	target.URL = okServer.URL
	if err := svc.TestWebhook(context.Background(), &target); err != nil {
		t.Fatalf("TestWebhook: %v", err)
	}
}

func TestDispatchScreenScopeAndEventFilter(t *testing.T) {
	db, svc := newWebhookFixture(t)

	fleetHits := make(chan string, 4)
	fleetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fleetHits <- r.Header.Get("X-Heimdall-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer fleetServer.Close()

	scopedHits := make(chan string, 4)
	scopedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scopedHits <- r.Header.Get("X-Heimdall-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer scopedServer.Close()

	targets := []models.WebhookTarget{
		{ID: "wh-fleet", Name: "fleet", URL: fleetServer.URL, Active: true},
		{ID: "wh-scoped", Name: "scoped", URL: scopedServer.URL, ScreenID: "screen-a", Active: true},
		{ID: "wh-filtered", Name: "quiet", URL: scopedServer.URL, Events: "schedule.applied", Active: true},
		{ID: "wh-off", Name: "disabled", URL: scopedServer.URL, Active: false},
	}
	for i := range targets {
		if err := db.Create(&targets[i]).Error; err != nil {
			t.Fatalf("seed target: %v", err)
		}
	}

	svc.dispatch(context.Background(), events.EventScreenOffline, events.Payload{"screen_id": "screen-b"})

	select {
	case ev := <-fleetHits:
		if ev != "screen.offline" {
			t.Errorf("fleet target event: got %q", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fleet-wide target never received the event")
	}

	// The scoped target watches screen-a, the filtered one only wants
	// schedule events, and the last is disabled; none may fire.
	select {
	case ev := <-scopedHits:
		t.Errorf("unexpected delivery to scoped/filtered target: %q", ev)
	case <-time.After(150 * time.Millisecond):
	}
}
