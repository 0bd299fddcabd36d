package supervisor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func sleepSpec(name string) ServiceSpec {
	return ServiceSpec{
		Name:    name,
		Command: "sleep",
		Args:    []string{"60"},
	}
}

func TestStartStopIdempotent(t *testing.T) {
	sup := New(nil)
	ctx := context.Background()

	if err := sup.Start(ctx, sleepSpec("daq-kraken0")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sup.Running("daq-kraken0") {
		t.Fatal("service should be running")
	}

	// Second start is a no-op, not a second process.
	if err := sup.Start(ctx, sleepSpec("daq-kraken0")); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	statuses := sup.Status()
	if len(statuses) != 1 {
		t.Fatalf("tracked %d services, want 1", len(statuses))
	}
	if !statuses[0].Running || statuses[0].PID <= 0 {
		t.Fatalf("unexpected status: %+v", statuses[0])
	}

	if err := sup.Stop("daq-kraken0"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.Running("daq-kraken0") {
		t.Fatal("service should be stopped")
	}

	// Stop again and stop an unknown name: both no-ops.
	if err := sup.Stop("daq-kraken0"); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := sup.Stop("never-started"); err != nil {
		t.Fatalf("Stop unknown: %v", err)
	}
}

func TestStartMissingBinaryFails(t *testing.T) {
	sup := New(nil)
	err := sup.Start(context.Background(), ServiceSpec{
		Name:    "gui",
		Command: filepath.Join(t.TempDir(), "no-such-binary"),
	})
	if err == nil {
		t.Fatal("starting a missing binary should fail")
	}
}

func TestFileProbeGatesReadiness(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ready")
	sup := New(nil)
	spec := ServiceSpec{
		Name:          "daq-kraken0",
		Unit:          "kraken0",
		Command:       "sh",
		Args:          []string{"-c", "sleep 0.2; touch " + marker + "; sleep 60"},
		Readiness:     FileProbe(marker),
		StartTimeout:  5 * time.Second,
		ProbeInterval: 50 * time.Millisecond,
	}

	start := time.Now()
	if err := sup.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = sup.StopAll() }()

	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Start returned after %s, before the marker could exist", elapsed)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("marker file should exist after Start returns: %v", err)
	}
}

func TestTCPProbeGatesReadiness(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	sup := New(nil)
	spec := ServiceSpec{
		Name:          "relay",
		Command:       "sleep",
		Args:          []string{"60"},
		Readiness:     TCPProbe(listener.Addr().String()),
		StartTimeout:  5 * time.Second,
		ProbeInterval: 50 * time.Millisecond,
	}
	if err := sup.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = sup.StopAll()
}

func TestStartupExitIsPromoted(t *testing.T) {
	sup := New(nil)
	spec := ServiceSpec{
		Name:          "daq-kraken1",
		Command:       "sh",
		Args:          []string{"-c", "exit 3"},
		Readiness:     FileProbe(filepath.Join(t.TempDir(), "never")),
		StartTimeout:  5 * time.Second,
		ProbeInterval: 50 * time.Millisecond,
	}

	err := sup.Start(context.Background(), spec)
	if err == nil {
		t.Fatal("a service that dies during startup should fail Start")
	}
	if sup.Running("daq-kraken1") {
		t.Fatal("failed service should not be tracked as running")
	}
}

func TestReadinessTimeoutTearsDown(t *testing.T) {
	sup := New(nil)
	spec := ServiceSpec{
		Name:          "gui",
		Command:       "sleep",
		Args:          []string{"60"},
		Readiness:     FileProbe(filepath.Join(t.TempDir(), "never")),
		StartTimeout:  300 * time.Millisecond,
		ProbeInterval: 50 * time.Millisecond,
	}

	if err := sup.Start(context.Background(), spec); err == nil {
		t.Fatal("a service that never becomes ready should fail Start")
	}
	if sup.Running("gui") {
		t.Fatal("timed-out service should be torn down")
	}
}

func TestStopAllReverseOrderAndIdempotent(t *testing.T) {
	sup := New(nil)
	ctx := context.Background()
	for _, name := range []string{"daq-kraken0", "daq-kraken1", "gui"} {
		if err := sup.Start(ctx, sleepSpec(name)); err != nil {
			t.Fatalf("Start %s: %v", name, err)
		}
	}

	if err := sup.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	for _, name := range []string{"daq-kraken0", "daq-kraken1", "gui"} {
		if sup.Running(name) {
			t.Errorf("%s still running after StopAll", name)
		}
	}
	if err := sup.StopAll(); err != nil {
		t.Fatalf("second StopAll: %v", err)
	}
}

func TestSIGTERMEscalatesToKill(t *testing.T) {
	sup := New(nil)
	spec := ServiceSpec{
		Name:        "stubborn",
		Command:     "sh",
		Args:        []string{"-c", "trap '' TERM; sleep 60"},
		StopTimeout: 300 * time.Millisecond,
	}
	if err := sup.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- sup.Stop("stubborn") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not escalate to SIGKILL")
	}
}

func TestConcurrentStartLaunchesOnce(t *testing.T) {
	dir := t.TempDir()
	launched := filepath.Join(dir, "launched")
	stub := filepath.Join(dir, "daq")
	script := "#!/bin/sh\necho $$ >> \"" + launched + "\"\nsleep 60\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	spec := ServiceSpec{Name: "daq-kraken0", Command: stub}

	sup := New(nil)
	t.Cleanup(func() { _ = sup.StopAll() })

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sup.Start(context.Background(), spec)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !strings.Contains(err.Error(), "already in progress") {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded == 0 {
		t.Fatal("every Start call failed")
	}
	if got := len(sup.Status()); got != 1 {
		t.Fatalf("tracked %d services, want 1", got)
	}

	// The stub appends its PID on launch, so a second line means a second
	// process escaped tracking.
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := os.ReadFile(launched)
		if err == nil && len(strings.Fields(string(data))) > 0 {
			if got := len(strings.Fields(string(data))); got != 1 {
				t.Fatalf("stub launched %d times, want 1", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stub never recorded a launch")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
