package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"beamline/internal/calcache"
	"beamline/internal/daemonctl"
	"beamline/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startCacheClear bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the beamline daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if startCacheClear {
				cfg := ctx.configValue()
				if cfg == nil {
					return errors.New("configuration not available")
				}
				cache := calcache.New(cfg.Paths.CacheFile, nil)
				if err := cache.Clear(); err != nil {
					return fmt.Errorf("clear calibration cache: %w", err)
				}
				fmt.Fprintln(stdout, "Calibration cache cleared")
			}

			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startCacheClear, "cache-clear", false, "Clear the calibration cache before starting")

	var stopCleanLogs bool
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the beamline daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
			} else if err != nil {
				return err
			} else {
				if !result.StopAcknowledged {
					fmt.Fprintln(stdout, "Stop request sent")
				}
				if result.ForcedKill && result.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}

			if stopCleanLogs {
				cfg := ctx.configValue()
				if cfg == nil {
					return errors.New("configuration not available")
				}
				removed, err := cleanLogFiles(cfg.Paths.LogDir)
				if err != nil {
					return fmt.Errorf("clean logs: %w", err)
				}
				fmt.Fprintf(stdout, "Removed %d log file(s)\n", removed)
			}
			return nil
		},
	}
	stopCmd.Flags().BoolVar(&stopCleanLogs, "clean-logs", false, "Remove daemon and service log files after stopping")

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the beamline daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}

			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Start.Message) != "" {
					fmt.Fprintln(stdout, result.Start.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show array, service, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			statusResp, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range systemLines(statusResp, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Units", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range unitLines(statusResp.Units, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			summary := daemonctl.BuildDependencySummary(statusResp.Dependencies)
			for _, line := range dependencyLines(statusResp.Dependencies, summary, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Calibration Sessions", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildSessionSummaryRows(statusResp.Sessions)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No calibration sessions recorded")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, 1))
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func systemLines(status *ipc.StatusResponse, colorize bool) []string {
	lines := make([]string, 0, 4)
	if status.Running {
		lines = append(lines, renderStatusLine("Beamline", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
		if status.USBMonitoring {
			lines = append(lines, renderStatusLine("USB Detection", statusOK, "Netlink monitoring active", colorize))
		} else {
			lines = append(lines, renderStatusLine("USB Detection", statusWarn, "Netlink unavailable", colorize))
		}
	} else {
		lines = append(lines, renderStatusLine("Beamline", statusWarn, "Not running (run `beamline start`)", colorize))
	}
	if strings.TrimSpace(status.LastError) != "" {
		lines = append(lines, renderStatusLine("Last Error", statusError, status.LastError, colorize))
	}
	for _, svc := range status.Services {
		label := "Service " + svc.Name
		if svc.Running {
			detail := fmt.Sprintf("Running (pid %d, up %s)", svc.PID, (time.Duration(svc.UptimeMillis) * time.Millisecond).Round(time.Second))
			lines = append(lines, renderStatusLine(label, statusOK, detail, colorize))
		} else {
			lines = append(lines, renderStatusLine(label, statusWarn, "Stopped", colorize))
		}
	}
	return lines
}

func unitLines(units []ipc.UnitStatus, colorize bool) []string {
	if len(units) == 0 {
		return []string{renderStatusLine("Units", statusInfo, "No units configured", colorize)}
	}
	lines := make([]string, 0, len(units))
	for _, unit := range units {
		kind := statusInfo
		detail := unit.State
		switch unit.State {
		case "tracking":
			kind = statusOK
			detail = fmt.Sprintf("Tracking (%d channels, noise floor %.1f dB)", unit.Channels, unit.NoiseFloorDB)
		case "calibrating":
			kind = statusWarn
			detail = "Calibrating"
		case "failed":
			kind = statusError
			detail = "Failed"
			if strings.TrimSpace(unit.Detail) != "" {
				detail = fmt.Sprintf("Failed (%s)", unit.Detail)
			}
		case "idle":
			detail = "Idle"
		}
		lines = append(lines, renderStatusLine(fmt.Sprintf("%s (%s)", unit.Unit, unit.Role), kind, detail, colorize))
	}
	return lines
}

func dependencyLines(deps []ipc.DependencyStatus, summary daemonctl.DependencySummary, colorize bool) []string {
	lines := make([]string, 0, len(deps)+1)
	lines = append(lines, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	missing := make([]string, 0)
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}

		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine(dep.Name, statusKindFromSeverity(dep.Severity), detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func buildSessionSummaryRows(summary ipc.SessionSummary) [][]string {
	if summary.Total == 0 {
		return nil
	}
	rows := [][]string{
		{"Running", fmt.Sprintf("%d", summary.Running)},
		{"Succeeded", fmt.Sprintf("%d", summary.Succeeded)},
		{"Failed", fmt.Sprintf("%d", summary.Failed)},
		{"Aborted", fmt.Sprintf("%d", summary.Aborted)},
		{"Total", fmt.Sprintf("%d", summary.Total)},
	}
	return rows
}

func cleanLogFiles(logDir string) (int, error) {
	if strings.TrimSpace(logDir) == "" {
		return 0, nil
	}
	matches, err := filepath.Glob(filepath.Join(logDir, "*.log"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}
