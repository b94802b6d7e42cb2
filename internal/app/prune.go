package app

import (
	"context"
	"errors"
	"time"
)

// Prune applies the retention window to the archive. The CSV history
// file is append-only and never pruned here.
func (a *App) Prune(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		olderThan = a.Config.Retention.ArchiveWindow
	}

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		return errors.New("database not configured; nothing to prune")
	}
	defer closeArchive()

	cutoff := time.Now().UTC().Add(-olderThan)
	removed, err := archive.DeleteRecordsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	remaining, err := archive.CountRecords(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int64("removed", removed).
		Int64("remaining", remaining).
		Time("cutoff", cutoff).
		Msg("archive pruned")
	return nil
}
