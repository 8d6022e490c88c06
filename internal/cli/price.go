package cli

import (
	"github.com/spf13/cobra"
)

var (
	priceTick   bool
	historyDays int
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Show the current ARV price",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Price(cmd.Context(), priceTick)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the locally retained price history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().History(cmd.Context(), historyDays)
	},
}

func init() {
	priceCmd.Flags().BoolVar(&priceTick, "tick", false, "Advance the random walk by one step first")
	historyCmd.Flags().IntVar(&historyDays, "days", 1, "Window in days")
}
