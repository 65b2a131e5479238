package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/crm-insights/internal/dashboard"
	"github.com/sells-group/crm-insights/internal/export"
	"github.com/sells-group/crm-insights/internal/model"
)

var (
	reportFlags criteriaFlags
	reportXLSX  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print funnel, financial and pacing metrics for a window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("report"); err != nil {
			return err
		}
		ctx := cmd.Context()

		c, err := reportFlags.criteria()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Reports read cached confirmations only; deep scans run via "scan".
		svc, err := initService(st, nil, false)
		if err != nil {
			return err
		}
		defer svc.Close()

		view, err := svc.Load(ctx, c)
		if err != nil {
			return err
		}

		formatReport(os.Stdout, view)

		if reportXLSX != "" {
			if err := export.WriteFile(reportXLSX, export.Report{
				Criteria: view.Criteria,
				Metrics:  view.Metrics,
				Records:  view.Records,
			}); err != nil {
				return err
			}
			zap.L().Info("report exported", zap.String("path", reportXLSX))
		}
		return nil
	},
}

func init() {
	reportFlags.register(reportCmd, true)
	reportCmd.Flags().StringVar(&reportXLSX, "xlsx", "", "also write the report to this .xlsx file")
	rootCmd.AddCommand(reportCmd)
}

// formatReport writes the view's headline metrics to out.
func formatReport(out io.Writer, v *dashboard.View) {
	m := v.Metrics
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "Window:\t%s\n", v.Criteria.Window)
	_, _ = fmt.Fprintf(w, "Filters:\tsource=%s region=%s state=%s segment=%s\n",
		orAll(v.Criteria.Source), orAll(v.Criteria.Region), orAll(v.Criteria.State), orAll(v.Criteria.Segment))
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "--- Funnel ---")
	_, _ = fmt.Fprintf(w, "Leads:\t%d\n", m.Funnel.TotalLeads)
	_, _ = fmt.Fprintf(w, "Deals:\t%d\t(%.1f%% of leads)\n", m.Funnel.TotalDeals, m.Funnel.LeadToDeal)
	_, _ = fmt.Fprintf(w, "Won:\t%d\t(%.1f%% of deals, %.1f%% of leads)\n", m.Funnel.WonDeals, m.Funnel.DealToWon, m.Funnel.LeadToWon)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "--- Financial ---")
	_, _ = fmt.Fprintf(w, "Revenue:\t%s\n", formatMoney(m.Financial.Revenue))
	_, _ = fmt.Fprintf(w, "Pipeline:\t%s\n", formatMoney(m.Financial.Pipeline))
	_, _ = fmt.Fprintf(w, "Lost:\t%s\n", formatMoney(m.Financial.Lost))
	_, _ = fmt.Fprintf(w, "Avg ticket:\t%s\n", formatMoney(m.Financial.AvgTicket))
	_, _ = fmt.Fprintf(w, "Required pipeline:\t%s\n", formatMoney(m.RequiredPipeline))
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "--- Segments ---")
	_, _ = fmt.Fprintln(w, "SEGMENT\tWON\tREVENUE\tOPEN\tPIPELINE")
	for _, s := range m.Segments {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n",
			s.Category, s.WonDeals, formatMoney(s.Revenue), s.OpenDeals, formatMoney(s.Pipeline))
	}
	_, _ = fmt.Fprintln(w)

	if len(m.Pacing) > 0 {
		_, _ = fmt.Fprintln(w, "--- Pacing ---")
		_, _ = fmt.Fprintln(w, "CHANNEL\tMETRIC\tTARGET\tREALIZED\tPROGRESS\tEXPECTED\tPROJECTION")
		for _, p := range m.Pacing {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\t%.1f%%\t%s\n",
				p.Channel, p.Metric,
				formatMoney(p.Target), formatMoney(p.Realized),
				p.Progress, p.ExpectedProgress, formatMoney(p.Projection))
		}
		_, _ = fmt.Fprintln(w)
	}

	_, _ = fmt.Fprintln(w, "--- Traceability ---")
	for _, tier := range model.Tiers {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", tier, m.Traceability.ByTier[tier])
	}
	_, _ = fmt.Fprintf(w, "Traced:\t%d/%d\t(%.1f%%)\n", m.Traceability.Traced, m.Traceability.Total, m.Traceability.TracedPct)

	if len(m.Sellers) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "--- Sellers ---")
		sellers := append([]model.SellerTotal(nil), m.Sellers...)
		sort.SliceStable(sellers, func(i, j int) bool { return sellers[i].Value > sellers[j].Value })
		for _, s := range sellers {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", s.Name, s.Count, formatMoney(s.Value))
		}
	}
	_ = w.Flush()
}

var moneyPrinter = message.NewPrinter(language.English)

// formatMoney renders v with thousands separators and two decimals.
func formatMoney(v float64) string {
	return moneyPrinter.Sprintf("%.2f", v)
}

func orAll(v string) string {
	if v == "" {
		return model.AllValues
	}
	return v
}
