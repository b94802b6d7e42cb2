package cli

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var simulateRate float64

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run the notification pipeline with a synthetic rate",
	Long: `Feeds a synthetic aggregated rate through the full decision and
delivery pipeline without touching stored history. Useful for verifying
SMTP or Telegram credentials before relying on scheduled checks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), decimal.NewFromFloat(simulateRate))
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateRate, "rate", 0, "Synthetic aggregated rate to feed through the pipeline")
	_ = simulateCmd.MarkFlagRequired("rate")
}
