package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-insights/internal/dashboard"
	"github.com/sells-group/crm-insights/internal/model"
)

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "Show or set monthly channel goals",
}

var goalsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective channel goals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, closeFn, err := goalsService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		goals, err := svc.Goals(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(goals)
		}
		formatGoals(os.Stdout, goals)
		return nil
	},
}

var goalsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a channel's targets or the lead conversion rate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		revenue, _ := cmd.Flags().GetFloat64("revenue")
		pipeline, _ := cmd.Flags().GetFloat64("pipeline")
		rate, _ := cmd.Flags().GetFloat64("conversion-rate")

		rateSet := cmd.Flags().Changed("conversion-rate")
		if channel == "" && !rateSet {
			return eris.New("goals set: --channel or --conversion-rate is required")
		}

		svc, closeFn, err := goalsService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		goals, err := svc.Goals(ctx)
		if err != nil {
			return err
		}

		next := model.DemandGoals{
			Channels:       make(map[string]model.ChannelGoal, len(goals.Channels)+1),
			ConversionRate: goals.ConversionRate,
		}
		for name, g := range goals.Channels {
			next.Channels[name] = g
		}
		if channel != "" {
			channel = channelKey(next.Channels, channel)
			g := next.Channels[channel]
			if cmd.Flags().Changed("revenue") {
				g.Revenue = revenue
			}
			if cmd.Flags().Changed("pipeline") {
				g.Pipeline = pipeline
			}
			next.Channels[channel] = g
		}
		if rateSet {
			next.ConversionRate = rate
		}

		if err := svc.SaveGoals(ctx, next); err != nil {
			return err
		}
		formatGoals(os.Stdout, next)
		return nil
	},
}

func init() {
	goalsShowCmd.Flags().Bool("json", false, "print goals as JSON")

	goalsSetCmd.Flags().String("channel", "", "channel name (e.g. Site, Instagram)")
	goalsSetCmd.Flags().Float64("revenue", 0, "monthly revenue target")
	goalsSetCmd.Flags().Float64("pipeline", 0, "monthly pipeline target")
	goalsSetCmd.Flags().Float64("conversion-rate", 0, "lead to won conversion rate, in percent")

	goalsCmd.AddCommand(goalsShowCmd)
	goalsCmd.AddCommand(goalsSetCmd)
	rootCmd.AddCommand(goalsCmd)
}

// goalsService opens the store and a dashboard service that only manages
// goals. It never touches the CRM.
func goalsService(cmd *cobra.Command) (*dashboard.Service, func(), error) {
	if err := cfg.Validate("goals"); err != nil {
		return nil, nil, err
	}
	st, err := initStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	svc := dashboard.New(nil, nil, st, dashboard.Options{DefaultGoals: cfg.Goals.Defaults()})
	return svc, func() {
		svc.Close()
		st.Close() //nolint:errcheck
	}, nil
}

// channelKey returns the existing key naming channel, ignoring case, so a
// goal set as "site" updates "Site".
func channelKey(channels map[string]model.ChannelGoal, channel string) string {
	for name := range channels {
		if strings.EqualFold(name, channel) {
			return name
		}
	}
	return channel
}

// formatGoals writes goals as a table sorted by channel.
func formatGoals(out io.Writer, goals model.DemandGoals) {
	names := make([]string, 0, len(goals.Channels))
	for name := range goals.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHANNEL\tREVENUE\tPIPELINE")
	_, _ = fmt.Fprintln(w, "-------\t-------\t--------")
	for _, name := range names {
		g := goals.Channels[name]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, formatMoney(g.Revenue), formatMoney(g.Pipeline))
	}
	_, _ = fmt.Fprintf(w, "\nConversion rate:\t%.1f%%\n", goals.ConversionRate)
	_ = w.Flush()
}
