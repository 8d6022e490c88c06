package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateReference float64
	simulatePrice     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格波动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateReference <= 0 || simulatePrice <= 0 {
			return errors.New("--reference 与 --price 必须大于 0")
		}

		reference := decimal.NewFromFloat(simulateReference)
		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateAlert(cmd.Context(), reference, price)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateReference, "reference", 0, "窗口起点价格 (EUR)")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "当前价格 (EUR)")
}
