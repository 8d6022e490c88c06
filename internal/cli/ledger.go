package cli

import (
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show balances, portfolio value and profit/loss",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Balance(cmd.Context())
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit <eur>",
	Short: "Top up the euro balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Deposit(cmd.Context(), args[0])
	},
}

var buyCmd = &cobra.Command{
	Use:   "buy <eur>",
	Short: "Spend euro on ARV at the current price",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Buy(cmd.Context(), args[0])
	},
}

var sellCmd = &cobra.Command{
	Use:   "sell <coins>",
	Short: "Sell ARV for euro at the current price",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sell(cmd.Context(), args[0])
	},
}

var exchangeCmd = &cobra.Command{
	Use:     "exchange <amount> <from> <to>",
	Short:   "Convert between ARV, EUR, BTC and ETH",
	Example: "  tuscoin exchange 0.00000005 btc eur",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Exchange(cmd.Context(), args[1], args[2], args[0])
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <from> <to>",
	Short: "Preview a conversion without changing balances",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Quote(cmd.Context(), args[1], args[2], args[0])
	},
}

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Print the exchange rate table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rates(cmd.Context())
	},
}

var transactionsLimit int

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List the transaction log, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Transactions(cmd.Context(), transactionsLimit)
	},
}

func init() {
	transactionsCmd.Flags().IntVar(&transactionsLimit, "limit", 20, "Number of transactions to display (0 for all)")
}
