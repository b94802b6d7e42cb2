package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/fetcher"
	"mortgage-rate-alerts/internal/storage"
)

// BackfillOptions bound the replay window.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// Backfill replays dated FRED observations into the rate history and,
// when configured, the archive. Only the statistical series carries a
// dated back catalogue; the scraped pages publish the current rate only.
// Dates already present in the history are skipped, so the command is
// safe to re-run over overlapping windows.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	src := a.Config.Sources
	fred := fetcher.NewFRED(fetcher.FREDOptions{
		APIKey:    src.FREDAPIKey,
		BaseURL:   src.FREDBaseURL,
		Timeout:   src.RequestTimeout,
		UserAgent: src.UserAgent,
	}, a.Logger)

	observations, err := fred.FetchHistory(ctx, from, to)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		a.Logger.Info().Msg("窗口内没有可回填的观测值")
		return nil
	}

	if opts.DryRun {
		a.Logger.Warn().Int("observations", len(observations)).Msg("回填 dry-run：不会写入历史")
		return nil
	}

	history, err := a.openHistory()
	if err != nil {
		return err
	}

	existing, err := history.LoadRecent(0)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, rec := range existing {
		seen[rec.Date] = true
	}

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	meta, err := history.Metadata()
	if err != nil {
		return err
	}

	target := decimal.NewFromFloat(a.Config.Alert.TargetRate)
	appended := 0
	skipped := 0
	for _, obs := range observations {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		date := obs.Date.Format("2006-01-02")
		if seen[date] || !fetcher.ValidRate(obs.Rate) {
			skipped++
			continue
		}

		rec := storage.RateRecord{
			Date:       date,
			Timestamp:  obs.Date,
			Rate:       obs.Rate,
			Sources:    []string{"fred"},
			TargetRate: target,
			State:      a.Config.Alert.State,
			Notes:      "backfill: fred weekly average",
		}
		if err := history.Append(rec); err != nil {
			return err
		}
		if archive != nil {
			if insertErr := archive.InsertRecord(ctx, rec); insertErr != nil {
				a.Logger.Error().Err(insertErr).Str("date", date).Msg("failed to mirror backfilled record to archive")
			}
		}

		seen[date] = true
		meta.Stats.Absorb(obs.Rate)
		appended++
	}

	if appended > 0 {
		if meta.Created.IsZero() {
			meta.Created = time.Now().UTC()
		}
		meta.TotalRecords += int64(appended)
		meta.SourcesUsed = mergeKnownSource(meta.SourcesUsed, "fred")
		if err := history.WriteMetadata(meta); err != nil {
			return err
		}
	}

	a.Logger.Info().Int("appended", appended).Int("skipped", skipped).Msg("回填完成")
	return nil
}

func mergeKnownSource(known []string, name string) []string {
	for _, k := range known {
		if k == name {
			return known
		}
	}
	return append(known, name)
}
