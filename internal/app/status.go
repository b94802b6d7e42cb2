package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Status prints the persisted run metadata and a recent-window summary.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	history, err := a.openHistory()
	if err != nil {
		return err
	}

	meta, err := history.Metadata()
	if err != nil {
		return err
	}

	window := opts.Window
	if window <= 0 {
		window = 30
	}
	summary, err := history.Summary(window)
	if err != nil {
		return err
	}

	out := os.Stdout
	fmt.Fprintln(out, "=== ratewatcher status ===")
	fmt.Fprintf(out, "Target Rate:         %.2f%%\n", a.Config.Alert.TargetRate)
	fmt.Fprintf(out, "State:               %s\n", a.Config.Alert.State)
	fmt.Fprintf(out, "Notification Method: %s\n", a.Config.Notify.Method)
	fmt.Fprintf(out, "Daily Report:        %t\n", a.Config.Alert.DailyReport)
	fmt.Fprintf(out, "Rate Sources:        %s\n", strings.Join(a.Config.Sources.Enabled, ", "))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Total Records:       %d\n", meta.TotalRecords)
	fmt.Fprintf(out, "Last Run:            %s\n", formatTime(meta.LastRunAt))
	fmt.Fprintf(out, "Last Alert:          %s\n", formatTimePtr(meta.LastAlertSentAt))
	fmt.Fprintf(out, "Last Daily Report:   %s\n", formatTimePtr(meta.LastReportSentAt))
	if meta.LatestRate != nil {
		fmt.Fprintf(out, "Latest Rate:         %s%%\n", meta.LatestRate.StringFixed(3))
	} else {
		fmt.Fprintln(out, "Latest Rate:         n/a")
	}
	fmt.Fprintf(out, "Trend:               %s\n", meta.RateTrend)
	fmt.Fprintf(out, "Sources Used:        %s\n", strings.Join(meta.SourcesUsed, ", "))
	fmt.Fprintf(out, "Data Size:           %.2f KB\n", meta.DataSizeKB)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "=== last %d runs ===\n", window)
	if summary.Records < 2 {
		fmt.Fprintln(out, "insufficient data")
		return nil
	}
	fmt.Fprintf(out, "Records:             %d\n", summary.Records)
	fmt.Fprintf(out, "Latest:              %s%%\n", summary.Latest.StringFixed(3))
	fmt.Fprintf(out, "Min / Max:           %s%% / %s%%\n", summary.Min.StringFixed(3), summary.Max.StringFixed(3))
	fmt.Fprintf(out, "Mean:                %s%%\n", summary.Mean.StringFixed(3))
	fmt.Fprintf(out, "Volatility:          %.3f\n", summary.Volatility)
	fmt.Fprintf(out, "Trend:               %s\n", summary.Trend)
	return nil
}

// Validate reports the effective, already-validated configuration.
// Reaching this point means config.Load accepted every setting; an
// invalid configuration fails earlier with a non-zero exit.
func (a *App) Validate(ctx context.Context) error {
	out := os.Stdout
	fmt.Fprintln(out, "configuration is valid")
	fmt.Fprintf(out, "  target rate:  %.2f%%\n", a.Config.Alert.TargetRate)
	fmt.Fprintf(out, "  state:        %s\n", a.Config.Alert.State)
	fmt.Fprintf(out, "  method:       %s\n", a.Config.Notify.Method)
	fmt.Fprintf(out, "  daily report: %t\n", a.Config.Alert.DailyReport)
	fmt.Fprintf(out, "  sources:      %s\n", strings.Join(a.Config.Sources.Enabled, ", "))
	fmt.Fprintf(out, "  data dir:     %s\n", a.Config.Data.Dir)
	if a.Config.Database.DSN != "" {
		fmt.Fprintln(out, "  archive:      enabled")
	} else {
		fmt.Fprintln(out, "  archive:      disabled")
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatTime(*t)
}
