package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/reconcile"
)

var (
	scanFlags criteriaFlags
	scanReset bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Deep scan a window for deals that can be traced to a lead",
	Long:  "Fetches a window's records, links deals to leads through references and phone numbers, then searches the CRM for the rest. Confirmed links are cached per window.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("scan"); err != nil {
			return err
		}
		ctx := cmd.Context()

		w, err := parseWindow(scanFlags.start, scanFlags.end)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if scanReset {
			if err := st.Delete(ctx, reconcile.CacheKey(w)); err != nil {
				return eris.Wrap(err, "scan: reset cache")
			}
			zap.L().Info("scan cache cleared", zap.String("window", w.Key()))
		}

		svc, err := initService(st, nil, false)
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.Scan(ctx, w, model.ScanTriggerManual)
		if err != nil {
			return err
		}

		formatScanResult(res)
		return nil
	},
}

func init() {
	scanFlags.register(scanCmd, false)
	scanCmd.Flags().BoolVar(&scanReset, "reset", false, "discard cached confirmations for the window first")
	rootCmd.AddCommand(scanCmd)
}

func formatScanResult(res reconcile.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%s\n", res.Window)
	counts := res.Counts()
	for _, tier := range model.Tiers {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", tier, counts[tier])
	}
	_, _ = fmt.Fprintf(w, "Searched:\t%d\n", res.Attempted)
	_, _ = fmt.Fprintf(w, "Confirmed:\t%d\n", res.Confirmed)
	if res.RemoteErrors > 0 {
		_, _ = fmt.Fprintf(w, "Lookup errors:\t%d\n", res.RemoteErrors)
	}
	if res.Skipped > 0 {
		_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", res.Skipped)
	}
	if res.Cancelled {
		_, _ = fmt.Fprintln(w, "Status:\tcancelled")
	}
	_ = w.Flush()
}
