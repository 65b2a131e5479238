package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-insights/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "crm-insights",
	Short: "Sales funnel, pacing and lead traceability for CRM data",
	Long:  "Fetches leads and deals from the CRM, links deals back to the leads they came from, and derives funnel, financial and goal pacing metrics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		// Calendar dates from the CRM and from flags are read in this zone.
		loc, err := cfg.CRM.LoadLocation()
		if err != nil {
			return err
		}
		time.Local = loc

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
