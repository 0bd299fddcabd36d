package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"beamline/internal/calcache"
	"beamline/internal/ipc"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the calibration cache",
	}

	cacheCmd.AddCommand(newCacheShowCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

func newCacheShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show cached calibration entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if cfg == nil {
				return errors.New("configuration not available")
			}
			cache := calcache.New(cfg.Paths.CacheFile, nil)
			entries, err := cache.Entries()
			if err != nil {
				return fmt.Errorf("read calibration cache: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache file: %s\n", cache.Path())
			if len(entries) == 0 {
				fmt.Fprintln(out, "Cache is empty")
				return nil
			}

			keys := make([]string, 0, len(entries))
			for key := range entries {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			now := time.Now().UTC()
			rows := make([][]string, 0, len(entries))
			for _, key := range keys {
				entry := entries[key]
				freshness := "expired"
				if entry.FreshAt(now) {
					freshness = fmt.Sprintf("fresh (%s left)", (entry.TTL() - entry.Age(now)).Round(time.Second))
				}
				units := make([]string, 0, len(entry.PerUnit))
				for unit := range entry.PerUnit {
					units = append(units, unit)
				}
				sort.Strings(units)
				rows = append(rows, []string{
					shortKey(key),
					entry.CreatedAt.Format("2006-01-02 15:04:05"),
					entry.Age(now).Round(time.Second).String(),
					freshness,
					strings.Join(units, ", "),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Key", "Created", "Age", "Freshness", "Units"},
				rows,
				2,
			))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached calibration entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			// Prefer the daemon so a running coordinator observes the clear.
			err := ctx.withClient(func(client *ipc.Client) error {
				_, clearErr := client.CacheClear()
				return clearErr
			})
			if err == nil {
				fmt.Fprintln(out, "Calibration cache cleared")
				return nil
			}

			cfg := ctx.configValue()
			if cfg == nil {
				return errors.New("configuration not available")
			}
			cache := calcache.New(cfg.Paths.CacheFile, nil)
			if err := cache.Clear(); err != nil {
				return fmt.Errorf("clear calibration cache: %w", err)
			}
			fmt.Fprintln(out, "Calibration cache cleared (daemon not running)")
			return nil
		},
	}
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12]
}
