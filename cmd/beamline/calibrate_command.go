package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"beamline/internal/ipc"
)

func newCalibrateCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run a calibration sweep across the array",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				if force {
					fmt.Fprintln(stdout, "Forcing fresh calibration (cache bypassed)...")
				} else {
					fmt.Fprintln(stdout, "Calibrating...")
				}
				resp, err := client.Calibrate(force)
				if err != nil {
					return fmt.Errorf("calibration failed: %w", err)
				}

				source := "fresh sweep"
				if resp.FromCache {
					source = "cached corrections"
				} else if resp.Shared {
					source = "shared-stimulus sweep"
				}
				duration := time.Duration(resp.DurationMillis) * time.Millisecond
				fmt.Fprintf(stdout, "Calibrated %d unit(s) from %s in %s\n", resp.Units, source, duration.Round(time.Millisecond))
				if resp.SessionID != "" {
					fmt.Fprintf(stdout, "Session: %s\n", resp.SessionID)
				}

				floors := append([]ipc.Floor(nil), resp.NoiseFloors...)
				sort.Slice(floors, func(i, j int) bool { return floors[i].Unit < floors[j].Unit })
				for _, floor := range floors {
					fmt.Fprintf(stdout, "  %-12s noise floor %.1f dB\n", floor.Unit, floor.NoiseFloorDB)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the calibration cache and run a fresh sweep")
	return cmd
}
