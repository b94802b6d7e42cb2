package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mortgage-rate-alerts/internal/app"
)

var (
	showLimit   int
	showArchive bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent rate records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Archive: showArchive,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
	showCmd.Flags().BoolVar(&showArchive, "archive", false, "Read from the PostgreSQL archive instead of the CSV file")
}
