package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"beamline/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if cfg == nil {
				return errors.New("configuration not available")
			}
			path := filepath.Join(cfg.Paths.LogDir, "beamline.log")
			out := cmd.OutOrStdout()

			tail, offset, err := logs.Tail(path, lines)
			if err != nil {
				return fmt.Errorf("tail %s: %w", path, err)
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			for {
				next, newOffset, err := logs.Follow(cmd.Context(), path, offset, time.Second)
				if err != nil {
					if errors.Is(err, cmd.Context().Err()) {
						return nil
					}
					return fmt.Errorf("tail %s: %w", path, err)
				}
				for _, line := range next {
					fmt.Fprintln(out, line)
				}
				offset = newOffset
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new log lines")
	return cmd
}
