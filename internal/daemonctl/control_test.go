package daemonctl

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"beamline/internal/config"
	"beamline/internal/ipc"
)

func TestBuildDependencySummary(t *testing.T) {
	deps := []ipc.DependencyStatus{
		{Name: "Acquisition daemon", Available: true},
		{Name: "DoA server", Available: false},
		{Name: "Bearing relay", Available: false, Optional: true},
	}
	summary := BuildDependencySummary(deps)
	if summary.Total != 3 || summary.Available != 1 {
		t.Fatalf("unexpected totals: %+v", summary)
	}
	if summary.MissingRequired != 1 || summary.MissingOptional != 1 {
		t.Fatalf("unexpected missing counts: %+v", summary)
	}
	if summary.Severity != "error" {
		t.Fatalf("expected error severity, got %s", summary.Severity)
	}
}

func TestBuildDependencySummaryEmpty(t *testing.T) {
	summary := BuildDependencySummary(nil)
	if summary.Severity != "info" {
		t.Fatalf("expected info severity, got %s", summary.Severity)
	}
}

func TestWaitForClientTimesOut(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.sock")
	start := time.Now()
	if _, err := WaitForClient(missing, 300*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Fatalf("returned before deadline: %v", elapsed)
	}
}

func TestProcessInfoNotRunning(t *testing.T) {
	running, pid, err := ProcessInfo(filepath.Join(t.TempDir(), "nope.sock"))
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if running || pid != 0 {
		t.Fatalf("expected not running, got running=%v pid=%d", running, pid)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "beamlined.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill current process")
	}
}

func TestDeriveLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = "/var/log/beamline"
	if got := DeriveLogDir("/tmp/locks/beamlined.lock", &cfg); got != "/tmp/locks" {
		t.Fatalf("lock path should win, got %s", got)
	}
	if got := DeriveLogDir("", &cfg); got != "/var/log/beamline" {
		t.Fatalf("config fallback expected, got %s", got)
	}
	if got := DeriveLogDir("", nil); got != "" {
		t.Fatalf("expected empty dir, got %s", got)
	}
}
