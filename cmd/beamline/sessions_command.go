package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"beamline/internal/ipc"
	"beamline/internal/sessions"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent calibration sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := fetchSessions(ctx, cmd, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No calibration sessions recorded")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				errMsg := rec.ErrorMessage
				if len(errMsg) > 40 {
					errMsg = errMsg[:37] + "..."
				}
				rows = append(rows, []string{
					shortKey(rec.ID),
					rec.Method,
					rec.Status,
					rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
					(time.Duration(rec.DurationMillis) * time.Millisecond).Round(time.Millisecond).String(),
					fmt.Sprintf("%d", rec.Units),
					errMsg,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Session", "Method", "Status", "Started", "Duration", "Units", "Error"},
				rows,
				4, 5,
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list")
	return cmd
}

// fetchSessions asks the daemon first and falls back to the on-disk store
// when the daemon is unavailable.
func fetchSessions(ctx *commandContext, cmd *cobra.Command, limit int) ([]ipc.SessionRecord, error) {
	var records []ipc.SessionRecord
	err := ctx.withClient(func(client *ipc.Client) error {
		resp, listErr := client.Sessions(limit)
		if listErr != nil {
			return listErr
		}
		records = resp.Sessions
		return nil
	})
	if err == nil {
		return records, nil
	}

	cfg := ctx.configValue()
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	store, openErr := sessions.Open(cfg)
	if openErr != nil {
		return nil, fmt.Errorf("open session store: %w", openErr)
	}
	defer store.Close()

	list, listErr := store.List(cmd.Context(), limit)
	if listErr != nil {
		return nil, listErr
	}
	records = make([]ipc.SessionRecord, 0, len(list))
	for _, session := range list {
		records = append(records, ipc.SessionRecord{
			ID:             session.ID,
			Method:         string(session.Method),
			Status:         string(session.Status),
			StartedAt:      session.StartedAt,
			DurationMillis: session.Duration().Milliseconds(),
			Units:          len(session.UnitOutcomes),
			ErrorMessage:   session.ErrorMessage,
		})
	}
	return records, nil
}
