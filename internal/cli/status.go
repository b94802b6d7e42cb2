package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mortgage-rate-alerts/internal/app"
)

var statusWindow int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print run metadata and recent statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusWindow <= 0 {
			return fmt.Errorf("--window must be greater than zero")
		}
		return getApp().Status(cmd.Context(), app.StatusOptions{Window: statusWindow})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify configuration completeness",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Validate(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusWindow, "window", 30, "Number of recent runs to summarise")
}
