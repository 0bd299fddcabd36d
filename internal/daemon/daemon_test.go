package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"beamline/internal/calcache"
	"beamline/internal/calibration"
	"beamline/internal/config"
	"beamline/internal/coordinator"
	"beamline/internal/firmware"
	"beamline/internal/supervisor"
)

// stubBackend answers every firmware command successfully.
type stubBackend struct{}

func (stubBackend) Calibrate(ctx context.Context, unit config.Unit, plan calibration.Plan, opts firmware.CalibrateOptions) (calibration.Result, error) {
	return calibration.Result{
		AmplitudeCorrectionsDB: []float64{0.1, -0.1},
		TimeDelayCorrectionsNs: []float64{5, -5},
		NoiseFloorDB:           -80,
		Status:                 calibration.StatusCalibrated,
		MeasuredAt:             time.Now().UTC(),
		Duration:               time.Millisecond,
	}, nil
}

func (stubBackend) SetNoiseSource(ctx context.Context, unit config.Unit, enabled bool) error {
	return nil
}

func (stubBackend) SyncStatus(ctx context.Context, unit config.Unit) (firmware.SyncReport, error) {
	return firmware.SyncReport{FrameSync: true, IQSync: true}, nil
}

func reservePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })
	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

func testDaemon(t *testing.T) (*Daemon, *config.Config) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ShareDir = filepath.Join(base, "share")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.FirmwareDir = filepath.Join(base, "firmware")
	cfg.Paths.CacheFile = filepath.Join(base, "cache", "cal.json")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := os.MkdirAll(cfg.Paths.FirmwareDir, 0o755); err != nil {
		t.Fatalf("mkdir firmware: %v", err)
	}

	binDir := filepath.Join(base, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	cfg.Services.DAQBinary = writeStub(t, binDir, "daq")
	cfg.Services.GUIBinary = writeStub(t, binDir, "gui")
	cfg.Services.RelayEnabled = false
	cfg.Services.StartTimeoutSeconds = 5
	cfg.Services.StopTimeoutSeconds = 1
	cfg.Services.ProbeIntervalMillis = 50

	// The stubs never open ports; keep listeners on the probed addresses so
	// readiness passes.
	for i := range cfg.Units {
		cfg.Units[i].ControlPort = reservePort(t)
		cfg.Units[i].DataPort = reservePort(t)
	}
	cfg.Services.GUIPort = reservePort(t)
	cfg.Calibration.RetryBackoffSeconds = 0

	cache := calcache.New(cfg.Paths.CacheFile, nil)
	coord := coordinator.New(&cfg, stubBackend{}, cache, nil, nil)
	services := supervisor.New(nil)
	d, err := New(&cfg, coord, services, cache, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, &cfg
}

func TestStartStopLifecycle(t *testing.T) {
	d, _ := testDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("second Start should report already running")
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("status should report running")
	}
	if len(status.Units) != 2 {
		t.Errorf("status units = %d, want 2", len(status.Units))
	}
	if len(status.Services) == 0 {
		t.Error("status should list launched services")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("status should report stopped")
	}
	// Stop is idempotent.
	d.Stop()
}

func TestGUIGatedOnMasterTracking(t *testing.T) {
	d, cfg := testDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := d.coord.WaitForTracking(waitCtx, cfg.MasterUnit().Name); err != nil {
		t.Fatalf("master never tracked: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for !d.services.Running("gui") {
		select {
		case <-deadline:
			t.Fatal("GUI never launched after master reached tracking")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSecondInstanceBlockedByLock(t *testing.T) {
	d, cfg := testDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	cache := calcache.New(cfg.Paths.CacheFile, nil)
	coord := coordinator.New(cfg, stubBackend{}, cache, nil, nil)
	second, err := New(cfg, coord, supervisor.New(nil), cache, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second daemon instance should be rejected by the lock")
	}
}

func TestPreflightFailurePromoted(t *testing.T) {
	d, cfg := testDaemon(t)
	cfg.Services.DAQBinary = filepath.Join(t.TempDir(), "missing-daq")

	if err := d.Start(context.Background()); err == nil {
		d.Stop()
		t.Fatal("missing acquisition binary should fail Start")
	}
	if d.Status(context.Background()).Running {
		t.Fatal("failed start must not leave the daemon running")
	}
}

func TestCalibrateRequiresRunningDaemon(t *testing.T) {
	d, _ := testDaemon(t)
	if _, err := d.Calibrate(context.Background(), false); err == nil {
		t.Fatal("calibrate on a stopped daemon should fail")
	}
}
