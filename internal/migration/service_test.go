package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type fakeImporter struct {
	validateErr error
	result      *Result
	importErr   error
	blockOnCtx  bool

	importCalled  bool
	analyzeCalled bool
}

func (f *fakeImporter) Validate(context.Context, Options) error { return f.validateErr }

func (f *fakeImporter) Analyze(context.Context, Options) (*Result, error) {
	f.analyzeCalled = true
	if f.result != nil {
		return f.result, nil
	}
	return newResult(), nil
}

func (f *fakeImporter) Import(ctx context.Context, _ Options, cb ProgressCallback) (*Result, error) {
	f.importCalled = true
	if cb != nil {
		cb(Progress{Phase: "content", CurrentStep: "Importing assets", Percentage: 50})
	}
	if f.blockOnCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.importErr != nil {
		return nil, f.importErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return newResult(), nil
}

func newMigrationTestService(t *testing.T) (*Service, *events.Bus, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&Job{}, &models.ContentItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	bus := events.NewBus()
	return NewService(db, bus, zerolog.Nop()), bus, db
}

// waitForJobStatus polls the persisted row; the in-memory job is shared
// with the worker goroutine and not safe to inspect mid-run.
func waitForJobStatus(t *testing.T, db *gorm.DB, jobID string, want JobStatus) *Job {
	t.Helper()
	var job Job
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := db.First(&job, "id = ?", jobID).Error; err != nil {
			t.Fatalf("load job: %v", err)
		}
		if job.Status == want {
			return &job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never reached %s, last status %s (error %q)", want, job.Status, job.Error)
	return nil
}

func TestCreateJob_ValidationFailure(t *testing.T) {
	svc, _, _ := newMigrationTestService(t)
	svc.RegisterImporter(SourceTypeXibo, &fakeImporter{
		validateErr: ValidationErrors{{Field: "xibo_dsn", Message: "database DSN is required"}},
	})

	if _, err := svc.CreateJob(context.Background(), SourceTypeXibo, Options{}); err == nil {
		t.Fatal("expected validation error")
	}

	jobs, err := svc.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("failed validation should not persist a job, got %d", len(jobs))
	}
}

func TestCreateJob_UnknownSource(t *testing.T) {
	svc, _, _ := newMigrationTestService(t)
	if _, err := svc.CreateJob(context.Background(), SourceType("chromecast"), Options{}); err == nil {
		t.Fatal("expected error for unregistered source")
	}
}

func TestJobLifecycle_CompletesAndPublishes(t *testing.T) {
	svc, bus, db := newMigrationTestService(t)

	importer := &fakeImporter{
		result: &Result{
			ScreensCreated:       2,
			LayoutsCreated:       1,
			ContentItemsImported: 5,
			PlaylistsCreated:     1,
			Warnings:             []string{"media path not accessible: file copies skipped"},
			Skipped:              map[string]int{"missing_files": 3},
			Mappings:             map[string]Mapping{},
		},
	}
	svc.RegisterImporter(SourceTypeScreenly, importer)

	auditSub := bus.Subscribe(events.EventAuditImport)

	job, err := svc.CreateJob(context.Background(), SourceTypeScreenly, Options{ScreenlyDBPath: "/tmp/screenly.db", ImportingUserID: "user-1"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Options.JobID != job.ID {
		t.Fatalf("options should carry the job id, got %q", job.Options.JobID)
	}

	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	done := waitForJobStatus(t, db, job.ID, JobStatusCompleted)
	if !importer.importCalled {
		t.Fatal("importer was never invoked")
	}
	if done.Result == nil || done.Result.ScreensCreated != 2 || done.Result.ContentItemsImported != 5 {
		t.Fatalf("result not persisted: %+v", done.Result)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if done.AnomalyReport == nil || done.AnomalyReport.Total == 0 {
		t.Fatalf("warnings should yield an anomaly report, got %+v", done.AnomalyReport)
	}

	select {
	case payload := <-auditSub:
		if payload["resource_id"] != job.ID {
			t.Fatalf("audit payload resource_id = %v", payload["resource_id"])
		}
		if payload["user_id"] != "user-1" {
			t.Fatalf("audit payload user_id = %v", payload["user_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event published for completed import")
	}
}

func TestJobLifecycle_DryRunUsesAnalyze(t *testing.T) {
	svc, _, db := newMigrationTestService(t)

	importer := &fakeImporter{result: &Result{ContentItemsImported: 7}}
	svc.RegisterImporter(SourceTypeScreenly, importer)

	job, err := svc.CreateJob(context.Background(), SourceTypeScreenly, Options{DryRun: true})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if !job.DryRun {
		t.Fatal("dry_run flag not carried onto the job")
	}
	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	waitForJobStatus(t, db, job.ID, JobStatusCompleted)
	if !importer.analyzeCalled {
		t.Fatal("dry run should call Analyze")
	}
	if importer.importCalled {
		t.Fatal("dry run must not call Import")
	}
}

func TestJobLifecycle_FailureRecordsError(t *testing.T) {
	svc, _, db := newMigrationTestService(t)
	svc.RegisterImporter(SourceTypeXibo, &fakeImporter{importErr: errors.New("connection reset")})

	job, err := svc.CreateJob(context.Background(), SourceTypeXibo, Options{XiboDSN: "host=nowhere"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	failed := waitForJobStatus(t, db, job.ID, JobStatusFailed)
	if failed.Error == "" {
		t.Fatal("failed job should retain the importer error")
	}
}

func TestCancelJob_StopsRunningImport(t *testing.T) {
	svc, _, db := newMigrationTestService(t)
	svc.RegisterImporter(SourceTypeXibo, &fakeImporter{blockOnCtx: true})

	job, err := svc.CreateJob(context.Background(), SourceTypeXibo, Options{XiboDSN: "host=nowhere"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}
	waitForJobStatus(t, db, job.ID, JobStatusRunning)

	if err := svc.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel job: %v", err)
	}
	waitForJobStatus(t, db, job.ID, JobStatusCancelled)
}

func TestDeleteJob_RefusesRunning(t *testing.T) {
	svc, _, db := newMigrationTestService(t)
	svc.RegisterImporter(SourceTypeXibo, &fakeImporter{blockOnCtx: true})

	job, err := svc.CreateJob(context.Background(), SourceTypeXibo, Options{XiboDSN: "host=nowhere"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}
	waitForJobStatus(t, db, job.ID, JobStatusRunning)

	if err := svc.DeleteJob(context.Background(), job.ID); err == nil {
		t.Fatal("deleting a running job should fail")
	}

	if err := svc.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel job: %v", err)
	}
	waitForJobStatus(t, db, job.ID, JobStatusCancelled)

	if err := svc.DeleteJob(context.Background(), job.ID); err != nil {
		t.Fatalf("delete cancelled job: %v", err)
	}
	if _, err := svc.GetJob(context.Background(), job.ID); err == nil {
		t.Fatal("deleted job should not be retrievable")
	}
}

func TestRecoverStaleJobs_MarksRunningAsFailed(t *testing.T) {
	svc, _, db := newMigrationTestService(t)

	stale := &Job{
		ID:         "stale-1",
		SourceType: SourceTypeXibo,
		Status:     JobStatusRunning,
	}
	if err := db.Create(stale).Error; err != nil {
		t.Fatalf("seed stale job: %v", err)
	}

	if err := svc.RecoverStaleJobs(context.Background()); err != nil {
		t.Fatalf("recover stale jobs: %v", err)
	}

	var recovered Job
	if err := db.First(&recovered, "id = ?", "stale-1").Error; err != nil {
		t.Fatalf("load recovered job: %v", err)
	}
	if recovered.Status != JobStatusFailed {
		t.Fatalf("status = %s, want failed", recovered.Status)
	}
	if recovered.Error == "" || recovered.CompletedAt == nil {
		t.Fatalf("recovered job missing error/completed_at: %+v", recovered)
	}
}
