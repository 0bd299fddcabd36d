package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"beamline/internal/config"
)

func newDeployCommand(ctx *commandContext) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "deploy <unit-number>",
		Short: "Write per-unit firmware configuration into the firmware directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid unit number %q", args[0])
			}

			cfg := ctx.configValue()
			if cfg == nil {
				return errors.New("configuration not available")
			}
			units := cfg.ActiveUnits()
			if index < 0 || index >= len(units) {
				return fmt.Errorf("unit number %d out of range (0..%d)", index, len(units)-1)
			}
			unit := units[index]

			if err := os.MkdirAll(cfg.Paths.FirmwareDir, 0o755); err != nil {
				return fmt.Errorf("create firmware directory: %w", err)
			}
			target := filepath.Join(cfg.Paths.FirmwareDir, fmt.Sprintf("daq_%s.ini", unit.Name))
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("firmware config already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check firmware config path: %w", err)
				}
			}

			if err := os.WriteFile(target, []byte(renderFirmwareConfig(cfg, unit)), 0o644); err != nil {
				return fmt.Errorf("write firmware config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote firmware configuration for %s (%s) to %s\n", unit.Name, unit.Role, target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing firmware configuration")
	return cmd
}

// renderFirmwareConfig emits the acquisition chain settings one unit reads at
// startup. Only the master drives the shared noise source.
func renderFirmwareConfig(cfg *config.Config, unit config.Unit) string {
	cal := cfg.Calibration
	noiseSourceControl := 0
	if unit.Role == string(config.RoleMaster) {
		noiseSourceControl = 1
	}
	return fmt.Sprintf(`[daq]
unit_name = %s
device_index = %d
control_port = %d
data_port = %d

[calibration]
frequency_start_hz = %.0f
frequency_stop_hz = %.0f
frequency_step_hz = %.0f
sample_count = %d
sample_window_ms = %d
noise_source_control = %d
`,
		unit.Name,
		unit.DeviceIndex,
		unit.ControlPort,
		unit.DataPort,
		cal.FrequencyStartHz,
		cal.FrequencyStopHz,
		cal.FrequencyStepHz,
		cal.SampleCount,
		cal.SampleWindowMillis,
		noiseSourceControl,
	)
}
