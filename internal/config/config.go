package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// UnitRole identifies which side of the dual-receiver pairing a unit plays.
type UnitRole string

const (
	// RoleMaster owns the shared noise-source stimulus and calibrates first.
	RoleMaster UnitRole = "master"
	// RoleSlave tracks opportunistically and may only calibrate once the
	// master is tracking.
	RoleSlave UnitRole = "slave"
)

// Unit describes one receiver unit in the array.
type Unit struct {
	Name        string `toml:"name"`
	Role        string `toml:"role"`
	DeviceIndex int    `toml:"device_index"`
	ControlPort int    `toml:"control_port"`
	DataPort    int    `toml:"data_port"`
}

// Paths contains directory configuration for the daemon.
type Paths struct {
	ShareDir    string `toml:"share_dir"`
	LogDir      string `toml:"log_dir"`
	FirmwareDir string `toml:"firmware_dir"`
	CacheFile   string `toml:"cache_file"`
}

// Calibration contains the calibration-quality and coordination parameters.
type Calibration struct {
	TTLSeconds           int     `toml:"ttl_seconds"`
	FrequencyStartHz     float64 `toml:"frequency_start_hz"`
	FrequencyStopHz      float64 `toml:"frequency_stop_hz"`
	FrequencyStepHz      float64 `toml:"frequency_step_hz"`
	SampleCount          int     `toml:"sample_count"`
	SampleWindowMillis   int     `toml:"sample_window_millis"`
	AmplitudeToleranceDB float64 `toml:"amplitude_tolerance_db"`
	DelayToleranceNs     float64 `toml:"delay_tolerance_ns"`
	MaxRetries           int     `toml:"max_retries"`
	RetryBackoffSeconds  int     `toml:"retry_backoff_seconds"`
	SyncFailureThreshold int     `toml:"sync_failure_threshold"`

	// Mode flags; each can be overridden by environment variables.
	DualMode   bool `toml:"dual_mode"`
	Parallel   bool `toml:"parallel"`
	SharedStim bool `toml:"shared_stimulus"`
	UseCache   bool `toml:"use_cache"`
}

// Services contains the supervised external process settings.
type Services struct {
	DAQBinary           string `toml:"daq_binary"`
	GUIBinary           string `toml:"gui_binary"`
	GUIPort             int    `toml:"gui_port"`
	RelayEnabled        bool   `toml:"relay_enabled"`
	RelayBinary         string `toml:"relay_binary"`
	RelayPort           int    `toml:"relay_port"`
	StartTimeoutSeconds int    `toml:"start_timeout_seconds"`
	StopTimeoutSeconds  int    `toml:"stop_timeout_seconds"`
	ProbeIntervalMillis int    `toml:"probe_interval_millis"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for beamline.
//
// Sections by subsystem:
//   - Paths: share/log/firmware directories and the calibration cache file
//   - Units: the receiver units and their master/slave roles
//   - Calibration: frequency plan, tolerances, retries, and mode flags
//   - Services: supervised firmware/GUI/relay processes and probe timing
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Units       []Unit      `toml:"units"`
	Calibration Calibration `toml:"calibration"`
	Services    Services    `toml:"services"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/beamline/config.toml")
}

// Load locates, parses, normalizes, and validates a configuration file. The
// returned config has all path fields expanded and environment overrides
// applied. The second return value reports whether a file existed at the
// resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("beamline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// Missing required directories that cannot be created are a hard error.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ShareDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.CacheFile); strings.TrimSpace(dir) != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.ShareDir, "beamlined.sock")
}

// MasterUnit returns the configured master unit. Validation guarantees
// exactly one exists.
func (c *Config) MasterUnit() Unit {
	for _, unit := range c.Units {
		if UnitRole(unit.Role) == RoleMaster {
			return unit
		}
	}
	return Unit{}
}

// SlaveUnits returns the configured slave units. Empty when dual mode is off.
func (c *Config) SlaveUnits() []Unit {
	if !c.Calibration.DualMode {
		return nil
	}
	var slaves []Unit
	for _, unit := range c.Units {
		if UnitRole(unit.Role) == RoleSlave {
			slaves = append(slaves, unit)
		}
	}
	return slaves
}

// ActiveUnits returns the units participating in the current mode: the
// master alone in single mode, master plus slaves in dual mode.
func (c *Config) ActiveUnits() []Unit {
	active := []Unit{c.MasterUnit()}
	return append(active, c.SlaveUnits()...)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
