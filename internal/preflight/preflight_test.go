package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"beamline/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("Share directory", dir)
	if !result.Passed {
		t.Fatalf("writable directory should pass: %+v", result)
	}

	missing := CheckDirectoryAccess("Share directory", filepath.Join(dir, "absent"))
	if missing.Passed {
		t.Fatal("missing directory should fail")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	notDir := CheckDirectoryAccess("Share directory", file)
	if notDir.Passed {
		t.Fatal("regular file should fail the directory check")
	}
}

func TestCheckCacheWritable(t *testing.T) {
	dir := t.TempDir()
	if result := CheckCacheWritable(filepath.Join(dir, "cache.json")); !result.Passed {
		t.Fatalf("cache in writable directory should pass: %+v", result)
	}
	if result := CheckCacheWritable(filepath.Join(dir, "absent", "cache.json")); result.Passed {
		t.Fatal("cache under a missing directory should fail")
	}
}

func TestRunAllReportsMissingBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Services.DAQBinary = "clearly-not-a-real-daq-binary"

	results := RunAll(context.Background(), cfg)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	failed := Failed(results)
	var daqFailed bool
	for _, result := range failed {
		if result.Name == "Acquisition daemon" {
			daqFailed = true
		}
	}
	if !daqFailed {
		t.Errorf("missing acquisition binary should fail, failures: %+v", failed)
	}
	if err := Summarize(results); err == nil {
		t.Error("Summarize should surface failures as an error")
	}
}

func TestRunAllPassesWithStubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := os.MkdirAll(cfg.Paths.FirmwareDir, 0o755); err != nil {
		t.Fatalf("mkdir firmware: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected clean run, failures: %+v", failed)
	}
	if err := Summarize(results); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
}

func TestSummarizeCleanRun(t *testing.T) {
	results := []Result{
		{Name: "Share directory", Passed: true},
		{Name: "Acquisition daemon", Passed: true},
	}
	if err := Summarize(results); err != nil {
		t.Fatalf("clean results should summarize to nil, got %v", err)
	}
}
