package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived records older than a cutoff",
	Long: `Removes rows from the PostgreSQL archive older than the given
duration. The append-only CSV history is never pruned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Prune(cmd.Context(), pruneOlderThan)
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Delete archived records older than this duration (defaults to retention.archive_window)")
}
