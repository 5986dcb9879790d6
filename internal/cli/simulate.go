package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateUSD float64
	simulateCNY float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次当日计算并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateUSD <= 0 || simulateCNY <= 0 {
			return errors.New("--usd 与 --cny 必须大于 0")
		}

		usd := decimal.NewFromFloat(simulateUSD)
		cny := decimal.NewFromFloat(simulateCNY)
		return getApp().SimulateAlert(cmd.Context(), usd, cny)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateUSD, "usd", 0, "USD per EUR 报价")
	simulateCmd.Flags().Float64Var(&simulateCNY, "cny", 0, "CNY per EUR 报价")
}
