package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/harness"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}

	return store, tempDir
}

// createTestReport creates a report with two measured kernels.
func createTestReport(runID string) *harness.Report {
	return &harness.Report{
		ID:        runID,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Backend:   "host",
		Device:    device.DeviceInfo{Name: "test-cpu", Vendor: "test", Type: device.DeviceTypeCPU},
		Repeats:   bench.DefaultRepeats,
		Buffers: []bench.Buffer{
			{Name: "doubles", ElementWidth: 8, RequestedBytes: 8 << 20, Bytes: 8 << 20, Elements: 1 << 20},
			{Name: "floats", ElementWidth: 4, RequestedBytes: 8 << 20, Bytes: 4 << 20, Elements: 1 << 20},
		},
		Results: []harness.KernelResult{
			{
				Kernel:       "elementwiseD",
				Precision:    kernels.Double,
				Verification: harness.VerificationPassed,
				Result:       &bench.Result{Kernel: "elementwiseD", BestLocalSize: 64, BestTime: 0.5, Bandwidth: 4.5, Measured: 9},
			},
			{
				Kernel:       "elementwiseF",
				Precision:    kernels.Float,
				Verification: harness.VerificationPassed,
				Result:       &bench.Result{Kernel: "elementwiseF", BestLocalSize: 128, BestTime: 0.25, Bandwidth: 6.25, Measured: 9},
			},
		},
	}
}

func TestNewFSStore(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
	if store.BaseDir() != tempDir {
		t.Errorf("Expected base dir %s, got %s", tempDir, store.BaseDir())
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveReport(t *testing.T) {
	store, tempDir := setupTestStore(t)
	report := createTestReport("run-001")

	if err := store.SaveReport(report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	path := filepath.Join(tempDir, "runs", "run-001", "report.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Report file was not created at %s", path)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file was left behind")
	}
}

func TestSaveReport_Invalid(t *testing.T) {
	store, _ := setupTestStore(t)

	tests := []struct {
		name   string
		report *harness.Report
		field  string
	}{
		{name: "nil report", report: nil, field: "Report"},
		{name: "empty id", report: &harness.Report{CreatedAt: time.Now(), Backend: "host"}, field: "ID"},
		{name: "zero time", report: &harness.Report{ID: "x", Backend: "host"}, field: "CreatedAt"},
		{name: "no backend", report: &harness.Report{ID: "x", CreatedAt: time.Now()}, field: "Backend"},
		{
			name:   "unnamed kernel",
			report: &harness.Report{ID: "x", CreatedAt: time.Now(), Backend: "host", Results: []harness.KernelResult{{}}},
			field:  "Results",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.SaveReport(tt.report)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, vErr.Field)
			}
		})
	}
}

func TestSaveReport_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	report := createTestReport("run-overwrite")
	if err := store.SaveReport(report); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	report.Results = report.Results[:1]
	if err := store.SaveReport(report); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadReport("run-overwrite")
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}
	if len(loaded.Results) != 1 {
		t.Errorf("Expected 1 result after overwrite, got %d", len(loaded.Results))
	}
}

func TestLoadReport(t *testing.T) {
	store, _ := setupTestStore(t)
	original := createTestReport("run-load")

	if err := store.SaveReport(original); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	loaded, err := store.LoadReport("run-load")
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}

	if diff := cmp.Diff(original, loaded, cmp.AllowUnexported(harness.Report{})); diff != "" {
		t.Errorf("Loaded report mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadReport_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadReport("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) || nfErr.RunID != "nonexistent" {
		t.Errorf("Expected NotFoundError for nonexistent, got %v", err)
	}
}

func TestLoadReport_EmptyRunID(t *testing.T) {
	store, _ := setupTestStore(t)

	if _, err := store.LoadReport(""); err == nil {
		t.Fatal("Expected error for empty runID")
	}
}

func TestListReports_Empty(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListReports()
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected 0 reports, got %d", len(infos))
	}
}

func TestListReports_NewestFirst(t *testing.T) {
	store, _ := setupTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		report := createTestReport(fmt.Sprintf("run-%03d", i))
		report.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.SaveReport(report); err != nil {
			t.Fatalf("Failed to save report %d: %v", i, err)
		}
	}

	infos, err := store.ListReports()
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}

	var ids []string
	for _, info := range infos {
		ids = append(ids, info.RunID)
	}
	want := []string{"run-002", "run-001", "run-000"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestListReports_SkipsInvalidDirectories(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if err := store.SaveReport(createTestReport("valid-run")); err != nil {
		t.Fatalf("Failed to save valid report: %v", err)
	}

	// A run still in progress has only its trace.
	if _, err := NewTraceWriter(tempDir, "running", false); err != nil {
		t.Fatalf("Failed to create trace: %v", err)
	}

	corrupt := filepath.Join(tempDir, "runs", "corrupt")
	if err := os.MkdirAll(corrupt, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, "report.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt report: %v", err)
	}

	if err := os.WriteFile(filepath.Join(tempDir, "runs", "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write stray file: %v", err)
	}

	infos, err := store.ListReports()
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}

	if len(infos) != 1 || infos[0].RunID != "valid-run" {
		t.Errorf("Expected only valid-run, got %+v", infos)
	}
}

func TestDeleteReport(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if err := store.SaveReport(createTestReport("run-delete")); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	writer, err := NewTraceWriter(tempDir, "run-delete", false)
	if err != nil {
		t.Fatalf("Failed to create trace: %v", err)
	}
	writer.Close()

	if err := store.DeleteReport("run-delete"); err != nil {
		t.Fatalf("DeleteReport failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tempDir, "runs", "run-delete")); !os.IsNotExist(err) {
		t.Error("Run directory still exists after delete")
	}
	if _, err := store.LoadReport("run-delete"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteReport_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.DeleteReport("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteReport_EmptyRunID(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.DeleteReport(""); err == nil {
		t.Fatal("Expected error for empty runID")
	}
}

func TestNewReportInfo(t *testing.T) {
	report := createTestReport("run-info")
	report.Results = append(report.Results, harness.KernelResult{
		Kernel:    "elementwiseCopyD",
		Precision: kernels.Double,
		Error:     "verification failed",
	})

	want := ReportInfo{
		RunID:         "run-info",
		CreatedAt:     report.CreatedAt,
		Backend:       "host",
		Device:        "test-cpu (test)",
		BufferBytes:   8 << 20,
		Kernels:       3,
		Failed:        true,
		BestKernel:    "elementwiseF",
		BestBandwidth: 6.25,
	}
	if diff := cmp.Diff(want, NewReportInfo(report)); diff != "" {
		t.Errorf("ReportInfo mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	const numGoroutines = 10
	done := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			done <- store.SaveReport(createTestReport(fmt.Sprintf("concurrent-%d", id)))
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		if err := <-done; err != nil {
			t.Errorf("Concurrent save failed: %v", err)
		}
	}

	infos, err := store.ListReports()
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(infos) != numGoroutines {
		t.Errorf("Expected %d reports, got %d", numGoroutines, len(infos))
	}
}
