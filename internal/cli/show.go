package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tuscoin/internal/app"
)

var (
	showLimit  int
	showAlerts bool
	showLedger bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent archived price samples, alerts or transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		if showAlerts && showLedger {
			return fmt.Errorf("--alerts and --ledger are mutually exclusive")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Alerts: showAlerts,
			Ledger: showLedger,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show recorded price-move alerts")
	showCmd.Flags().BoolVar(&showLedger, "ledger", false, "Show archived transactions of the active ledger")
}
