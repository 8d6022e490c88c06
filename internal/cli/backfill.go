package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tuscoin/internal/app"
)

var (
	backfillDays    int
	backfillDryRun  bool
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Copy local price history and transactions into the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}

		opts := app.BackfillOptions{
			Days:    backfillDays,
			DryRun:  backfillDryRun,
			Workers: backfillWorkers,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillDays, "days", 7, "Days of local history to copy")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of concurrent workers")
}
