package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"mortgage-rate-alerts/internal/scheduler"
	"mortgage-rate-alerts/internal/service"
	"mortgage-rate-alerts/internal/storage"
)

// Check runs one complete rate check cycle: fetch, aggregate, decide,
// persist, notify. It fails only when history cannot be written.
func (a *App) Check(ctx context.Context) error {
	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	outcome, err := svc.RunCheck(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("check failed")
		return err
	}

	if outcome.NoData {
		a.Logger.Warn().Msg("check completed without data")
		return nil
	}

	a.Logger.Info().
		Str("rate", outcome.Rate.StringFixed(3)).
		Str("confidence", string(outcome.Confidence)).
		Bool("threshold_crossed", outcome.ThresholdCrossed).
		Bool("daily_report_due", outcome.DailyReportDue).
		Bool("delivered", outcome.Delivered).
		Msg("check completed")
	return nil
}

// Watch repeats checks on the configured interval until interrupted.
// External cron remains the primary trigger; watch exists for hosts
// without one.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting watch loop")
	err = sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		_, runErr := svc.RunCheck(tickCtx)
		return runErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}

func (a *App) newService(ctx context.Context) (*service.Service, func(), error) {
	history, err := a.openHistory()
	if err != nil {
		return nil, nil, err
	}

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if archive == nil {
		a.Logger.Debug().Msg("database.dsn not configured; archive mirroring disabled")
	}

	notifier, err := a.newNotifier()
	if err != nil {
		if closeArchive != nil {
			closeArchive()
		}
		return nil, nil, err
	}

	var recordArchive storage.RecordArchive
	if archive != nil {
		recordArchive = archive
	}

	svc := service.New(a.Config, a.newFetcher(), history, recordArchive, notifier, a.Logger)
	return svc, closeArchive, nil
}
