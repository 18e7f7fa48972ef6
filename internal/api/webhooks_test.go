package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/audit"
	"github.com/friendsincode/heimdall_signage/internal/auth"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

func newWebhookAPIFixture(t *testing.T) (*API, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{}, &models.AuditLog{}, &models.Screen{},
		&models.WebhookTarget{}, &models.WebhookLog{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	a := &API{
		db:       db,
		auditSvc: audit.NewService(db, bus, zerolog.Nop()),
		bus:      bus,
		logger:   zerolog.Nop(),
	}
	return a, db
}

// webhookRouter mounts the webhook routes behind a middleware that
// injects claims, standing in for the JWT middleware.
func webhookRouter(a *API, roles ...string) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithClaims(req.Context(), &auth.Claims{UserID: "u1", Roles: roles})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	a.AddWebhookRoutes(r)
	return r
}

func TestWebhookCreateValidation(t *testing.T) {
	a, _ := newWebhookAPIFixture(t)
	router := webhookRouter(a, string(models.RoleAdmin))

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing name",
			body:     `{"url": "https://ops.example.com/hook"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "name_required",
		},
		{
			name:     "bad url scheme",
			body:     `{"name": "ops", "url": "ftp://ops.example.com/hook"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_url",
		},
		{
			name:     "relative url",
			body:     `{"name": "ops", "url": "/hook"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_url",
		},
		{
			name:     "unknown event",
			body:     `{"name": "ops", "url": "https://ops.example.com/hook", "events": "screen.offline,bogus.event"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "unknown_event",
		},
		{
			name:     "unknown screen scope",
			body:     `{"name": "ops", "url": "https://ops.example.com/hook", "screen_id": "no-such-screen"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "screen_not_found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/webhooks", strings.NewReader(tc.body))
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantCode {
				t.Fatalf("status: got %d want %d body=%s", rr.Code, tc.wantCode, rr.Body.String())
			}
			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["error"] != tc.wantErr {
				t.Fatalf("error code: got %q want %q", resp["error"], tc.wantErr)
			}
		})
	}
}

func TestWebhookCreateReturnsSecretOnce(t *testing.T) {
	a, db := newWebhookAPIFixture(t)
	router := webhookRouter(a, string(models.RoleAdmin))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/webhooks",
		strings.NewReader(`{"name": "ops", "url": "https://ops.example.com/hook", "events": "screen.offline"}`))
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Webhook models.WebhookTarget `json:"webhook"`
		Secret  string               `json:"secret"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Secret == "" {
		t.Fatalf("expected signing secret in create response")
	}
	if resp.Webhook.ID == "" || !resp.Webhook.Active {
		t.Fatalf("unexpected webhook: %+v", resp.Webhook)
	}

	// Reading the target back must not leak the secret.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/webhooks/"+resp.Webhook.ID, nil)
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status: got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), resp.Secret) {
		t.Fatalf("secret leaked in get response")
	}

	// The create is audited.
	var auditCount int64
	if err := db.Model(&models.AuditLog{}).Where("action = ?", models.AuditActionWebhookChange).Count(&auditCount).Error; err != nil {
		t.Fatalf("count audits: %v", err)
	}
	if auditCount != 1 {
		t.Fatalf("audit rows: got %d want 1", auditCount)
	}
}

func TestWebhookUpdateAndDelete(t *testing.T) {
	a, db := newWebhookAPIFixture(t)
	router := webhookRouter(a, string(models.RoleAdmin))

	target := models.NewWebhookTarget("ops", "https://ops.example.com/hook", "")
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("seed webhook: %v", err)
	}
	if err := db.Create(&models.WebhookLog{ID: "wl1", TargetID: target.ID, Event: "screen.offline"}).Error; err != nil {
		t.Fatalf("seed log: %v", err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("PATCH", "/webhooks/"+target.ID, strings.NewReader(`{"active": false}`))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status: got %d body=%s", rr.Code, rr.Body.String())
	}

	var stored models.WebhookTarget
	if err := db.First(&stored, "id = ?", target.ID).Error; err != nil {
		t.Fatalf("reload webhook: %v", err)
	}
	if stored.Active {
		t.Fatalf("expected webhook disabled after patch")
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest("PATCH", "/webhooks/"+target.ID, strings.NewReader(`{"url": "not-a-url"}`))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("patch bad url status: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest("DELETE", "/webhooks/"+target.ID, nil)
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status: got %d body=%s", rr.Code, rr.Body.String())
	}

	var count int64
	if err := db.Model(&models.WebhookTarget{}).Where("id = ?", target.ID).Count(&count).Error; err != nil {
		t.Fatalf("count targets: %v", err)
	}
	if count != 0 {
		t.Fatalf("target should be deleted")
	}
	if err := db.Model(&models.WebhookLog{}).Where("target_id = ?", target.ID).Count(&count).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 0 {
		t.Fatalf("delivery logs should be deleted with the target")
	}
}

func TestWebhookRoutesRequireAdmin(t *testing.T) {
	a, db := newWebhookAPIFixture(t)
	router := webhookRouter(a, string(models.RoleEditor))

	target := models.NewWebhookTarget("ops", "https://ops.example.com/hook", "")
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("seed webhook: %v", err)
	}

	for _, tc := range []struct {
		method string
		path   string
	}{
		{"GET", "/webhooks"},
		{"POST", "/webhooks"},
		{"GET", "/webhooks/" + target.ID},
		{"DELETE", "/webhooks/" + target.ID},
	} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s %s: got %d want 403", tc.method, tc.path, rr.Code)
		}
	}
}

func TestWebhookLogsEndpoint(t *testing.T) {
	a, db := newWebhookAPIFixture(t)
	router := webhookRouter(a, string(models.RoleAdmin))

	target := models.NewWebhookTarget("ops", "https://ops.example.com/hook", "")
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("seed webhook: %v", err)
	}
	for _, log := range []models.WebhookLog{
		{ID: "wl1", TargetID: target.ID, Event: "screen.offline", StatusCode: 200},
		{ID: "wl2", TargetID: target.ID, Event: "player.error", StatusCode: 500, Error: "status 500"},
		{ID: "wl3", TargetID: "other-target", Event: "screen.online", StatusCode: 200},
	} {
		if err := db.Create(&log).Error; err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/webhooks/"+target.ID+"/logs", nil)
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Logs []models.WebhookLog `json:"logs"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Logs) != 2 {
		t.Fatalf("logs: got %d want 2", len(resp.Logs))
	}
	for _, l := range resp.Logs {
		if l.TargetID != target.ID {
			t.Fatalf("log %s belongs to %s", l.ID, l.TargetID)
		}
	}
}
