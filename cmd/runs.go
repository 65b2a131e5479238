package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/monitoring"
	"github.com/sells-group/crm-insights/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect deep scan history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deep scan runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		window, _ := flags.GetString("window")
		limit, _ := flags.GetInt("limit")
		asJSON, _ := flags.GetBool("json")

		return withRunStore(cmd, func(ctx context.Context, st store.Store) error {
			runs, err := st.ListScanRuns(ctx, store.RunFilter{WindowKey: window, Limit: limit})
			if err != nil {
				return eris.Wrap(err, "runs list")
			}
			out := cmd.OutOrStdout()
			switch {
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			case len(runs) == 0:
				fmt.Fprintln(cmd.ErrOrStderr(), "No scan runs found.")
			default:
				formatRunsList(out, runs)
			}
			return nil
		})
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize deep scans over a lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours < 1 {
			return eris.Errorf("runs stats: --since must be at least 1h, got %s", since)
		}

		return withRunStore(cmd, func(ctx context.Context, st store.Store) error {
			snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
			if err != nil {
				return eris.Wrap(err, "runs stats")
			}
			formatRunStats(cmd.OutOrStdout(), snap)
			return nil
		})
	},
}

func init() {
	runsListCmd.Flags().String("window", "", "only runs for this window key (e.g. 2025-03-01_2025-03-31)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Bool("json", false, "print runs as JSON")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "lookback window (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsListCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// withRunStore opens the store for a runs subcommand and closes it after fn.
func withRunStore(cmd *cobra.Command, fn func(context.Context, store.Store) error) error {
	if err := cfg.Validate("runs"); err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(ctx, st)
}

func formatRunsList(out io.Writer, runs []model.ScanRun) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWINDOW\tTRIGGER\tSTATUS\tSEARCHED\tCONFIRMED\tERRORS\tSKIPPED\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID), r.WindowKey, r.Trigger, r.Status,
			r.Attempted, r.Confirmed, r.RemoteErrors, r.Skipped,
			r.StartedAt.Format("2006-01-02 15:04"), runDuration(r))
	}
	tw.Flush() //nolint:errcheck
}

// runDuration is blank while a run has not finished.
func runDuration(r model.ScanRun) string {
	if r.FinishedAt == nil {
		return ""
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func formatRunStats(out io.Writer, s *monitoring.Snapshot) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value string
	}{
		{"Lookback", fmt.Sprintf("%dh", s.LookbackHours)},
		{"Total scans", fmt.Sprint(s.ScansTotal)},
		{"  complete", fmt.Sprint(s.ScansComplete)},
		{"  cancelled", fmt.Sprint(s.ScansCancelled)},
		{"  running", fmt.Sprintf("%d (%d stale)", s.ScansRunning, s.StaleRuns)},
		{"Deals searched", fmt.Sprint(s.Attempted)},
		{"Links confirmed", fmt.Sprint(s.Confirmed)},
		{"Lookup errors", fmt.Sprintf("%d (%.1f%%)", s.RemoteErrors, s.RemoteErrorRate*100)},
		{"Skipped (circuit open)", fmt.Sprint(s.Skipped)},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", r.label, r.value)
	}
	tw.Flush() //nolint:errcheck
}

// truncateID shortens a run UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
