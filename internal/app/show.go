package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"mortgage-rate-alerts/internal/storage"
)

// Show prints recent rate records from the CSV history or, with
// --archive, from the PostgreSQL mirror.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	var records []storage.RateRecord
	var err error

	if opts.Archive {
		records, err = a.loadArchiveRecords(ctx, opts.Limit)
	} else {
		records, err = a.loadHistoryRecords(opts.Limit)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRate\tTarget\tSources\tAlert\tReport\tNotes")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Rate.StringFixed(3),
			rec.TargetRate.StringFixed(2),
			strings.Join(rec.Sources, ","),
			rec.AlertSent,
			rec.DailyReportSent,
			sanitizeInline(rec.Notes),
		)
	}

	writer.Flush()
	return nil
}

func (a *App) loadHistoryRecords(limit int) ([]storage.RateRecord, error) {
	history, err := a.openHistory()
	if err != nil {
		return nil, err
	}
	return history.LoadRecent(limit)
}

func (a *App) loadArchiveRecords(ctx context.Context, limit int) ([]storage.RateRecord, error) {
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	if archive == nil {
		return nil, errors.New("database not configured; cannot show archive")
	}
	defer closeArchive()

	records, err := archive.ListRecentRecords(ctx, limit)
	if err != nil {
		return nil, err
	}

	// archive lists newest first; match the file order of the CSV path
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
