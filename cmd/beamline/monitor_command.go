package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"beamline/internal/ipc"
)

const monitorPollInterval = 2 * time.Second

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor <seconds>",
		Short: "Watch array tracking state for a fixed duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.Atoi(args[0])
			if err != nil || seconds <= 0 {
				return fmt.Errorf("invalid duration %q: expected a positive number of seconds", args[0])
			}

			cfg := ctx.configValue()
			if cfg == nil {
				return errors.New("configuration not available")
			}

			out := cmd.OutOrStdout()
			printer := message.NewPrinter(language.English)
			printer.Fprintf(out, "Sweep plan: %d Hz to %d Hz step %d Hz, %d samples per step\n",
				int64(cfg.Calibration.FrequencyStartHz),
				int64(cfg.Calibration.FrequencyStopHz),
				int64(cfg.Calibration.FrequencyStepHz),
				cfg.Calibration.SampleCount,
			)

			deadline := time.Now().Add(time.Duration(seconds) * time.Second)
			ticker := time.NewTicker(monitorPollInterval)
			defer ticker.Stop()

			for {
				if err := printMonitorSnapshot(ctx, out); err != nil {
					return err
				}
				if time.Now().After(deadline) {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case now := <-ticker.C:
					if now.After(deadline) {
						return nil
					}
				}
			}
		},
	}
	return cmd
}

func printMonitorSnapshot(ctx *commandContext, out io.Writer) error {
	return ctx.withClient(func(client *ipc.Client) error {
		status, err := client.Status()
		if err != nil {
			return err
		}
		stamp := time.Now().Format("15:04:05")
		if !status.Running {
			fmt.Fprintf(out, "%s daemon not running\n", stamp)
			return nil
		}
		for _, unit := range status.Units {
			line := fmt.Sprintf("%s %-12s %-12s", stamp, unit.Unit, unit.State)
			if unit.State == "tracking" {
				line += fmt.Sprintf(" noise %.1f dB", unit.NoiseFloorDB)
			}
			if unit.SyncFailures > 0 {
				line += fmt.Sprintf(" sync failures %d", unit.SyncFailures)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	})
}
