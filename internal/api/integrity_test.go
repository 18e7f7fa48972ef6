package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/audit"
	"github.com/friendsincode/heimdall_signage/internal/auth"
	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/integrity"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

func newIntegrityAPIFixture(t *testing.T) (*API, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{}, &models.AuditLog{},
		&models.Screen{}, &models.Layout{}, &models.Region{},
		&models.ContentItem{}, &models.Playlist{}, &models.Assignment{},
		&models.AssignmentEntry{}, &models.ScheduleEntry{}, &models.ProbeJob{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mediaSvc, err := media.NewService(&config.Config{MediaRoot: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("media service: %v", err)
	}

	bus := events.NewBus()
	a := &API{
		db:           db,
		auditSvc:     audit.NewService(db, bus, zerolog.Nop()),
		integritySvc: integrity.NewService(db, mediaSvc, zerolog.Nop()),
		bus:          bus,
		logger:       zerolog.Nop(),
	}
	return a, db
}

func integrityRouter(a *API, roles ...string) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithClaims(req.Context(), &auth.Claims{UserID: "u1", Roles: roles})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	a.AddIntegrityRoutes(r)
	return r
}

func TestIntegrityReportEndpoint(t *testing.T) {
	a, db := newIntegrityAPIFixture(t)
	router := integrityRouter(a, string(models.RoleAdmin))

	// One orphan playlist entry and one empty layout.
	if err := db.Create(&models.Assignment{ID: "assign-1", PlaylistID: "gone", RegionID: "gone"}).Error; err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	if err := db.Create(&models.Layout{ID: "layout-empty", Name: "Empty"}).Error; err != nil {
		t.Fatalf("seed layout: %v", err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/integrity/report", nil)
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		GeneratedAt time.Time                  `json:"generated_at"`
		Total       int                        `json:"total"`
		ByType      map[string]int             `json:"by_type"`
		Findings    []integrityFindingResponse `json:"findings"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("total: got %d want 2, findings=%+v", resp.Total, resp.Findings)
	}
	if resp.ByType["orphan_assignment"] != 1 || resp.ByType["layout_without_regions"] != 1 {
		t.Fatalf("by_type: %+v", resp.ByType)
	}
	for _, f := range resp.Findings {
		if f.Type == "orphan_assignment" && !f.Repairable {
			t.Fatalf("orphan assignment must be repairable")
		}
		if f.Type == "layout_without_regions" && f.Repairable {
			t.Fatalf("empty layout finding is advisory only")
		}
	}

	// The scan is audited.
	var count int64
	if err := db.Model(&models.AuditLog{}).Where("action = ?", models.AuditActionIntegrityScan).Count(&count).Error; err != nil {
		t.Fatalf("count audits: %v", err)
	}
	if count != 1 {
		t.Fatalf("audit rows: got %d want 1", count)
	}
}

func TestIntegrityRepairEndpoint(t *testing.T) {
	a, db := newIntegrityAPIFixture(t)
	router := integrityRouter(a, string(models.RoleAdmin))

	if err := db.Create(&models.AssignmentEntry{ID: "entry-1", AssignmentID: "a1", ContentItemID: "gone"}).Error; err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/integrity/repair",
		strings.NewReader(`{"type": "orphan_assignment_entry", "resource_id": "entry-1"}`))
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Changed bool   `json:"changed"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Changed {
		t.Fatalf("expected repair to change state: %s", resp.Message)
	}

	var count int64
	if err := db.Model(&models.AssignmentEntry{}).Where("id = ?", "entry-1").Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 0 {
		t.Fatalf("orphan entry should be deleted")
	}
	if err := db.Model(&models.AuditLog{}).Where("action = ?", models.AuditActionIntegrityRepair).Count(&count).Error; err != nil {
		t.Fatalf("count audits: %v", err)
	}
	if count != 1 {
		t.Fatalf("audit rows: got %d want 1", count)
	}
}

func TestIntegrityRepairValidation(t *testing.T) {
	a, _ := newIntegrityAPIFixture(t)
	router := integrityRouter(a, string(models.RoleAdmin))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/integrity/repair", strings.NewReader(`{"type": "orphan_assignment"}`))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing resource_id: got %d want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/integrity/repair", strings.NewReader(`not json`))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid json: got %d want 400", rr.Code)
	}
}

func TestIntegrityRoutesRequireAdmin(t *testing.T) {
	a, _ := newIntegrityAPIFixture(t)
	router := integrityRouter(a, string(models.RoleViewer))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/integrity/report", nil)
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("report as viewer: got %d want 403", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/integrity/repair", strings.NewReader(`{}`))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("repair as viewer: got %d want 403", rr.Code)
	}
}

func TestIntegrityUnavailableWithoutService(t *testing.T) {
	a, _ := newIntegrityAPIFixture(t)
	a.integritySvc = nil
	router := integrityRouter(a, string(models.RoleAdmin))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/integrity/report", nil)
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d want 503", rr.Code)
	}
}
