package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"mortgage-rate-alerts/internal/storage"
)

// Export renders historical rate records as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-a.Config.Retention.ArchiveWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := a.loadWindow(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting records")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// loadWindow prefers the archive (longer history) and falls back to the
// CSV file when no database is configured.
func (a *App) loadWindow(ctx context.Context, from, to time.Time) ([]storage.RateRecord, error) {
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		defer closeArchive()
		return archive.ListRecordsBetween(ctx, from, to)
	}

	history, err := a.openHistory()
	if err != nil {
		return nil, err
	}
	all, err := history.LoadRecent(0)
	if err != nil {
		return nil, err
	}

	windowed := make([]storage.RateRecord, 0, len(all))
	for _, rec := range all {
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		windowed = append(windowed, rec)
	}
	return windowed, nil
}

func downsampleRecords(records []storage.RateRecord, max int) []storage.RateRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.RateRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.RateRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "timestamp", "rate", "source", "target_rate", "state", "alert_sent", "daily_report_sent", "notes"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.Date,
			rec.Timestamp.Format(time.RFC3339),
			rec.Rate.String(),
			strings.Join(rec.Sources, ","),
			rec.TargetRate.String(),
			rec.State,
			strconv.FormatBool(rec.AlertSent),
			strconv.FormatBool(rec.DailyReportSent),
			rec.Notes,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRecordsPNG(path string, records []storage.RateRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(records))
	rates := make([]float64, 0, len(records))
	targets := make([]float64, 0, len(records))

	for _, rec := range records {
		if rec.Rate.IsZero() {
			continue
		}
		x = append(x, rec.Timestamp)
		rates = append(rates, rec.Rate.InexactFloat64())
		targets = append(targets, rec.TargetRate.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("not enough data points to chart")
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (%)",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Aggregated",
				XValues: x,
				YValues: rates,
			},
			chart.TimeSeries{
				Name:    "Target",
				XValues: x,
				YValues: targets,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
