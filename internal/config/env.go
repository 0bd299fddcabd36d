package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables recognized as overrides for the calibration mode
// flags. These mirror the knobs the deployment scripts historically exported;
// unlike the scripts, values are validated and a malformed one is an error
// rather than silently ignored.
const (
	EnvDualMode            = "BEAMLINE_DUAL_MODE"
	EnvSharedCalibration   = "BEAMLINE_SHARED_CALIBRATION"
	EnvParallelCalibration = "BEAMLINE_PARALLEL_CALIBRATION"
	EnvCachedCalibration   = "BEAMLINE_CACHED_CALIBRATION"
	EnvCacheFile           = "BEAMLINE_CACHE_FILE"
)

func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	for _, override := range []struct {
		name   string
		target *bool
	}{
		{EnvDualMode, &c.Calibration.DualMode},
		{EnvSharedCalibration, &c.Calibration.SharedStim},
		{EnvParallelCalibration, &c.Calibration.Parallel},
		{EnvCachedCalibration, &c.Calibration.UseCache},
	} {
		raw, ok := lookup(override.name)
		if !ok {
			continue
		}
		value, err := parseBoolEnv(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", override.name, err)
		}
		*override.target = value
	}

	if raw, ok := lookup(EnvCacheFile); ok {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return fmt.Errorf("%s: path must not be empty", EnvCacheFile)
		}
		c.Paths.CacheFile = trimmed
	}
	return nil
}

func parseBoolEnv(raw string) (bool, error) {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
	return value, nil
}
