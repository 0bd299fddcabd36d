package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Role constraints are checked
// here, at configuration time, so an over-subscribed stimulus source can never
// reach the coordinator.
func (c *Config) Validate() error {
	if err := c.validateUnits(); err != nil {
		return err
	}
	if err := c.validateCalibration(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUnits() error {
	if len(c.Units) == 0 {
		return errors.New("units: at least one unit must be configured")
	}

	masters := 0
	seen := make(map[string]struct{}, len(c.Units))
	ports := make(map[int]string, len(c.Units)*2)
	for _, unit := range c.Units {
		if unit.Name == "" {
			return errors.New("units: name must be set")
		}
		if _, dup := seen[unit.Name]; dup {
			return fmt.Errorf("units: duplicate name %q", unit.Name)
		}
		seen[unit.Name] = struct{}{}

		switch UnitRole(unit.Role) {
		case RoleMaster:
			masters++
		case RoleSlave:
		default:
			return fmt.Errorf("units: %s has unknown role %q (want master or slave)", unit.Name, unit.Role)
		}

		if unit.DeviceIndex < 0 {
			return fmt.Errorf("units: %s device_index must not be negative", unit.Name)
		}
		for _, port := range []int{unit.ControlPort, unit.DataPort} {
			if port <= 0 || port > 65535 {
				return fmt.Errorf("units: %s has invalid port %d", unit.Name, port)
			}
			if owner, used := ports[port]; used {
				return fmt.Errorf("units: port %d assigned to both %s and %s", port, owner, unit.Name)
			}
			ports[port] = unit.Name
		}
	}

	// The master owns the shared stimulus source, so there can be only one.
	if masters == 0 {
		return errors.New("units: exactly one master unit is required")
	}
	if masters > 1 {
		return fmt.Errorf("units: %d master units configured, the shared stimulus source allows exactly one", masters)
	}

	if c.Calibration.DualMode && len(c.SlaveUnits()) == 0 {
		return errors.New("calibration.dual_mode requires at least one slave unit")
	}
	return nil
}

func (c *Config) validateCalibration() error {
	cal := c.Calibration
	if cal.TTLSeconds <= 0 {
		return errors.New("calibration.ttl_seconds must be positive")
	}
	if cal.FrequencyStartHz <= 0 || cal.FrequencyStopHz <= 0 {
		return errors.New("calibration frequency bounds must be positive")
	}
	if cal.FrequencyStopHz <= cal.FrequencyStartHz {
		return errors.New("calibration.frequency_stop_hz must be greater than frequency_start_hz")
	}
	if cal.FrequencyStepHz <= 0 {
		return errors.New("calibration.frequency_step_hz must be positive")
	}
	if err := ensurePositiveMap(map[string]int{
		"calibration.sample_count":           cal.SampleCount,
		"calibration.sample_window_millis":   cal.SampleWindowMillis,
		"calibration.sync_failure_threshold": cal.SyncFailureThreshold,
	}); err != nil {
		return err
	}
	if cal.AmplitudeToleranceDB <= 0 {
		return errors.New("calibration.amplitude_tolerance_db must be positive")
	}
	if cal.DelayToleranceNs <= 0 {
		return errors.New("calibration.delay_tolerance_ns must be positive")
	}
	if cal.MaxRetries < 0 {
		return errors.New("calibration.max_retries must not be negative")
	}
	if cal.RetryBackoffSeconds < 0 {
		return errors.New("calibration.retry_backoff_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateServices() error {
	if strings.TrimSpace(c.Services.DAQBinary) == "" {
		return errors.New("services.daq_binary must be set")
	}
	if strings.TrimSpace(c.Services.GUIBinary) == "" {
		return errors.New("services.gui_binary must be set")
	}
	if c.Services.GUIPort <= 0 || c.Services.GUIPort > 65535 {
		return fmt.Errorf("services.gui_port %d is invalid", c.Services.GUIPort)
	}
	if c.Services.RelayEnabled {
		if strings.TrimSpace(c.Services.RelayBinary) == "" {
			return errors.New("services.relay_binary must be set when services.relay_enabled is true")
		}
		if c.Services.RelayPort <= 0 || c.Services.RelayPort > 65535 {
			return fmt.Errorf("services.relay_port %d is invalid", c.Services.RelayPort)
		}
	}
	return ensurePositiveMap(map[string]int{
		"services.start_timeout_seconds": c.Services.StartTimeoutSeconds,
		"services.stop_timeout_seconds":  c.Services.StopTimeoutSeconds,
		"services.probe_interval_millis": c.Services.ProbeIntervalMillis,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
