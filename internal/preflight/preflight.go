package preflight

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"beamline/internal/config"
	"beamline/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Share directory", cfg.Paths.ShareDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Firmware directory", cfg.Paths.FirmwareDir),
		CheckCacheWritable(cfg.Paths.CacheFile),
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Command
		}
		if !status.Available && status.Optional {
			result.Passed = true
			result.Detail = status.Detail + " (optional)"
		}
		results = append(results, result)
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}

// Summarize renders failures into a single error, nil when everything passed.
func Summarize(results []Result) error {
	failed := Failed(results)
	if len(failed) == 0 {
		return nil
	}
	details := make([]string, 0, len(failed))
	for _, result := range failed {
		details = append(details, fmt.Sprintf("%s: %s", result.Name, result.Detail))
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(details, "; "))
}

// CheckSystemDeps evaluates the external binaries the supervisor launches.
// Both the daemon and the CLI status command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Acquisition daemon",
			Command:     cfg.Services.DAQBinary,
			Description: "Per-unit sample acquisition",
		},
		{
			Name:        "DoA server",
			Command:     cfg.Services.GUIBinary,
			Description: "Direction-finding web interface",
		},
	}
	if cfg.Services.RelayEnabled {
		requirements = append(requirements, deps.Requirement{
			Name:        "Bearing relay",
			Command:     cfg.Services.RelayBinary,
			Description: "Forwards bearings to downstream consumers",
			Optional:    true,
		})
	}
	return deps.CheckBinaries(requirements)
}

// CheckCacheWritable verifies the calibration cache's parent directory.
func CheckCacheWritable(cacheFile string) Result {
	const name = "Calibration cache"
	dir := filepath.Dir(cacheFile)
	if strings.TrimSpace(dir) == "" || dir == "." {
		return Result{Name: name, Detail: "cache file path not configured"}
	}
	result := CheckDirectoryAccess(name, dir)
	result.Name = name
	return result
}
