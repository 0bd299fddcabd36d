// Package testsupport builds configuration fixtures shared by package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"beamline/internal/config"
	"beamline/internal/sessions"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ShareDir = filepath.Join(base, "share")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.FirmwareDir = filepath.Join(base, "firmware")
	cfgVal.Paths.CacheFile = filepath.Join(base, "cache", "calibration_cache.json")
	cfgVal.Calibration.RetryBackoffSeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return builder.cfg
}

// WithRelay enables the bearing relay service on the test config.
func WithRelay(binary string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Services.RelayEnabled = true
		b.cfg.Services.RelayBinary = binary
	}
}

// WithStubbedBinaries writes stub executables for the acquisition and GUI
// services under the fixture's bin directory and points the config at them.
// The stubs exit immediately.
func WithStubbedBinaries() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		write := func(name string) string {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
			return target
		}
		b.cfg.Services.DAQBinary = write("heimdall_daq")
		b.cfg.Services.GUIBinary = write("kraken_doa_server")
		b.cfg.Services.RelayBinary = write("kraken_relay")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ShareDir)
}

// MustOpenStore opens a sessions.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *sessions.Store {
	t.Helper()

	store, err := sessions.Open(cfg)
	if err != nil {
		t.Fatalf("sessions.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
