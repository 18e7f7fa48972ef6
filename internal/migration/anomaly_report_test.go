package migration

import "testing"

func TestBuildAnomalyReport_GroupsByClass(t *testing.T) {
	report := BuildAnomalyReport(&Result{
		Skipped: map[string]int{
			"video_duration_unknown":   4,
			"missing_files":            3,
			"recurrence_unmapped":      2,
			"unsupported_widget_clock": 1,
		},
		Warnings: []string{
			"Duration verification: 4 imported videos have no known duration",
			"media path not accessible: file copies skipped",
		},
	})
	if report == nil {
		t.Fatal("expected anomaly report")
	}
	if report.Total != 12 {
		t.Fatalf("expected total 12, got %d", report.Total)
	}
	if got := report.ByClass[AnomalyClassDuration].Count; got != 5 {
		t.Fatalf("expected duration count 5, got %d", got)
	}
	if got := report.ByClass[AnomalyClassMissingFiles].Count; got != 4 {
		t.Fatalf("expected missing files count 4, got %d", got)
	}
	if got := report.ByClass[AnomalyClassRecurrence].Count; got != 2 {
		t.Fatalf("expected recurrence count 2, got %d", got)
	}
	if got := report.ByClass[AnomalyClassUnsupportedType].Count; got != 1 {
		t.Fatalf("expected unsupported type count 1, got %d", got)
	}
	if got := report.ByClass[AnomalyClassSkippedEntities].Count; got != 11 {
		t.Fatalf("expected skipped entities count 11, got %d", got)
	}
	if len(report.ByClass[AnomalyClassDuration].Examples) == 0 {
		t.Fatal("expected duration bucket to carry examples")
	}
}

func TestBuildAnomalyReport_EmptyResult(t *testing.T) {
	if report := BuildAnomalyReport(nil); report != nil {
		t.Fatalf("nil result should yield nil report, got %+v", report)
	}
	if report := BuildAnomalyReport(newResult()); report != nil {
		t.Fatalf("clean result should yield nil report, got %+v", report)
	}
	if report := BuildAnomalyReport(&Result{Skipped: map[string]int{"missing_files": 0}}); report != nil {
		t.Fatalf("zero counters should yield nil report, got %+v", report)
	}
}

func TestAddAnomaly_CapsExamples(t *testing.T) {
	report := &AnomalyReport{ByClass: map[AnomalyClass]AnomalyBucket{}}
	for i := 0; i < 10; i++ {
		addAnomaly(report, AnomalyClassMissingFiles, 1, string(rune('a'+i)))
	}
	bucket := report.ByClass[AnomalyClassMissingFiles]
	if bucket.Count != 10 {
		t.Fatalf("expected count 10, got %d", bucket.Count)
	}
	if len(bucket.Examples) != 5 {
		t.Fatalf("examples should cap at 5, got %d", len(bucket.Examples))
	}
}
