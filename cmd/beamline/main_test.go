package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig writes a minimal config with all paths under dir and
// returns its path.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	content := fmt.Sprintf(`[paths]
share_dir = %q
log_dir = %q
firmware_dir = %q
cache_file = %q

[[units]]
name = "kraken0"
role = "master"
device_index = 0
control_port = 5000
data_port = 5001

[[units]]
name = "kraken1"
role = "slave"
device_index = 1
control_port = 5100
data_port = 5101
`,
		filepath.Join(dir, "share"),
		filepath.Join(dir, "logs"),
		filepath.Join(dir, "firmware"),
		filepath.Join(dir, "cache", "cal.json"),
	)
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read generated config: %v", err)
	}
	if !strings.Contains(string(data), "[[units]]") {
		t.Fatal("sample config should describe units")
	}

	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}
	if _, err := runCommand(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("init with --overwrite: %v", err)
	}
}

func TestConfigShowPrintsEffectiveConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	out, err := runCommand(t, "--config", cfgPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v\n%s", err, out)
	}
	if !strings.Contains(out, "kraken0") || !strings.Contains(out, "kraken1") {
		t.Fatalf("expected unit names in output: %s", out)
	}
	if !strings.Contains(out, "dual_mode=yes") {
		t.Fatalf("expected mode summary in output: %s", out)
	}
}

func TestDeployWritesFirmwareConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	out, err := runCommand(t, "--config", cfgPath, "deploy", "0")
	if err != nil {
		t.Fatalf("deploy: %v\n%s", err, out)
	}
	target := filepath.Join(dir, "firmware", "daq_kraken0.ini")
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read firmware config: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "noise_source_control = 1") {
		t.Fatalf("master should control the noise source:\n%s", text)
	}
	if !strings.Contains(text, "control_port = 5000") {
		t.Fatalf("expected control port in firmware config:\n%s", text)
	}

	if _, err := runCommand(t, "--config", cfgPath, "deploy", "0"); err == nil {
		t.Fatal("second deploy without --overwrite should fail")
	}

	if _, err := runCommand(t, "--config", cfgPath, "deploy", "1"); err != nil {
		t.Fatalf("deploy slave: %v", err)
	}
	slave, err := os.ReadFile(filepath.Join(dir, "firmware", "daq_kraken1.ini"))
	if err != nil {
		t.Fatalf("read slave firmware config: %v", err)
	}
	if !strings.Contains(string(slave), "noise_source_control = 0") {
		t.Fatal("slave must not control the noise source")
	}
}

func TestDeployRejectsBadUnitNumber(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	if _, err := runCommand(t, "--config", cfgPath, "deploy", "7"); err == nil {
		t.Fatal("out-of-range unit number should fail")
	}
	if _, err := runCommand(t, "--config", cfgPath, "deploy", "abc"); err == nil {
		t.Fatal("non-numeric unit number should fail")
	}
}

func TestCacheShowEmpty(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	out, err := runCommand(t, "--config", cfgPath, "cache", "show")
	if err != nil {
		t.Fatalf("cache show: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Cache is empty") {
		t.Fatalf("expected empty cache message, got: %s", out)
	}
}
