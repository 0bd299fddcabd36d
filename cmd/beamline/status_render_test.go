package main

import (
	"strings"
	"testing"

	"beamline/internal/ipc"
)

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("Beamline", statusOK, "Running (pid 42)", false)
	if !strings.Contains(line, "Beamline:") {
		t.Fatalf("missing label: %q", line)
	}
	if !strings.Contains(line, "[OK] Running (pid 42)") {
		t.Fatalf("missing status text: %q", line)
	}
	if strings.Contains(line, ansiGreen) {
		t.Fatalf("colorize disabled but got ANSI codes: %q", line)
	}

	colored := renderStatusLine("Beamline", statusError, "boom", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red wrapping: %q", colored)
	}
}

func TestStatusKindFromSeverity(t *testing.T) {
	cases := map[string]statusKind{
		"ok":      statusOK,
		"warn":    statusWarn,
		"warning": statusWarn,
		"error":   statusError,
		"":        statusInfo,
		"other":   statusInfo,
	}
	for severity, want := range cases {
		if got := statusKindFromSeverity(severity); got != want {
			t.Fatalf("severity %q: got %v want %v", severity, got, want)
		}
	}
}

func TestUnitLines(t *testing.T) {
	units := []ipc.UnitStatus{
		{Unit: "kraken0", Role: "master", State: "tracking", Channels: 5, NoiseFloorDB: -82.5},
		{Unit: "kraken1", Role: "slave", State: "failed", Detail: "sync failures exceeded threshold"},
	}
	lines := unitLines(units, false)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "Tracking (5 channels, noise floor -82.5 dB)") {
		t.Fatalf("unexpected tracking line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "Failed (sync failures exceeded threshold)") {
		t.Fatalf("unexpected failed line: %q", lines[1])
	}

	empty := unitLines(nil, false)
	if len(empty) != 1 || !strings.Contains(empty[0], "No units configured") {
		t.Fatalf("unexpected empty output: %v", empty)
	}
}

func TestRenderTableAlignment(t *testing.T) {
	out := renderTable(
		[]string{"Status", "Count"},
		[][]string{{"Succeeded", "12"}, {"Failed", "1"}},
		1,
	)
	if !strings.Contains(out, "Succeeded") || !strings.Contains(out, "12") {
		t.Fatalf("missing rows: %s", out)
	}
	// A short row pads out to the header width instead of erroring.
	padded := renderTable([]string{"A", "B"}, [][]string{{"solo"}})
	if !strings.Contains(padded, "solo") {
		t.Fatalf("missing padded row: %s", padded)
	}
}
