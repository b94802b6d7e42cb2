package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/aggregate"
	"mortgage-rate-alerts/internal/alerting"
	"mortgage-rate-alerts/internal/config"
	"mortgage-rate-alerts/internal/fetcher"
	"mortgage-rate-alerts/internal/storage"
)

// trendWindow is how many recent rows feed the trend label.
const trendWindow = 30

// SampleFetcher yields the per-source samples for one run.
type SampleFetcher interface {
	FetchAll(ctx context.Context) []fetcher.Sample
}

// HistoryStore is the durable table plus metadata singleton.
type HistoryStore interface {
	Append(rec storage.RateRecord) error
	Metadata() (storage.Metadata, error)
	WriteMetadata(meta storage.Metadata) error
	Summary(window int) (storage.Summary, error)
}

// Outcome reports what a check run decided and did.
type Outcome struct {
	NoData           bool
	Rate             decimal.Decimal
	Confidence       aggregate.Confidence
	Sources          []string
	ThresholdCrossed bool
	DailyReportDue   bool
	Delivered        bool
	Kind             string
}

// Service orchestrates one fetch-aggregate-alert-persist cycle.
type Service struct {
	fetcher  SampleFetcher
	history  HistoryStore
	archive  storage.RecordArchive
	notifier alerting.Notifier
	logger   zerolog.Logger

	target      decimal.Decimal
	state       string
	dailyReport bool

	now func() time.Time
}

// New constructs the check service. archive and notifier may be nil.
func New(cfg *config.Config, f SampleFetcher, history HistoryStore, archive storage.RecordArchive, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		fetcher:     f,
		history:     history,
		archive:     archive,
		notifier:    notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		target:      decimal.NewFromFloat(cfg.Alert.TargetRate),
		state:       cfg.Alert.State,
		dailyReport: cfg.Alert.DailyReport,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时间源（测试用）。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RunCheck executes one complete cycle. The returned error is fatal for
// the run (persistence failure); fetch and delivery failures degrade and
// are reflected in the Outcome instead.
func (s *Service) RunCheck(ctx context.Context) (Outcome, error) {
	now := s.now()

	meta, err := s.history.Metadata()
	if err != nil {
		s.logger.Warn().Err(err).Msg("metadata unreadable, starting from empty state")
		meta = storage.Metadata{}
	}

	samples := s.fetcher.FetchAll(ctx)

	agg, aggErr := aggregate.Aggregate(samples)
	if aggErr != nil {
		if !errors.Is(aggErr, aggregate.ErrNoSamples) {
			return Outcome{}, aggErr
		}
		s.logger.Warn().Msg("no valid rate from any source, recording audit row")
		return s.recordNoData(ctx, meta, now)
	}

	s.logger.Info().
		Str("rate", agg.Value.StringFixed(3)).
		Str("confidence", string(agg.Confidence)).
		Strs("sources", agg.Sources).
		Msg("aggregated rate")

	thresholdCrossed := agg.Value.LessThanOrEqual(s.target)
	reportDue := s.dailyReport && !meta.ReportSentToday(now)

	outcome := Outcome{
		Rate:             agg.Value,
		Confidence:       agg.Confidence,
		Sources:          agg.Sources,
		ThresholdCrossed: thresholdCrossed,
		DailyReportDue:   reportDue,
	}

	trend := s.currentTrend()

	if thresholdCrossed || reportDue {
		kind := alerting.KindDailyReport
		if thresholdCrossed {
			kind = alerting.KindThresholdAlert
		}
		outcome.Kind = kind
		outcome.Delivered = s.dispatch(ctx, alerting.Notification{
			Kind:       kind,
			Rate:       agg.Value,
			TargetRate: s.target,
			State:      s.state,
			Confidence: string(agg.Confidence),
			Sources:    agg.Sources,
			Trend:      trend,
			SentAt:     now,
		})
	} else {
		s.logger.Info().
			Str("rate", agg.Value.StringFixed(3)).
			Str("target", s.target.StringFixed(2)).
			Msg("rate above target, no alert needed")
	}

	rec := storage.RateRecord{
		Date:            now.Format("2006-01-02"),
		Timestamp:       now,
		Rate:            agg.Value,
		Sources:         agg.Sources,
		TargetRate:      s.target,
		State:           s.state,
		AlertSent:       outcome.Delivered && thresholdCrossed,
		DailyReportSent: outcome.Delivered && reportDue,
		Notes:           fmt.Sprintf("confidence: %s, spread: %s", agg.Confidence, agg.Spread.StringFixed(3)),
	}

	if err := s.persist(ctx, rec, meta, now, true); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// recordNoData keeps audit continuity when every source failed: a row is
// still appended and metadata still advances, but nothing is notified.
func (s *Service) recordNoData(ctx context.Context, meta storage.Metadata, now time.Time) (Outcome, error) {
	rec := storage.RateRecord{
		Date:       now.Format("2006-01-02"),
		Timestamp:  now,
		Rate:       decimal.Zero,
		TargetRate: s.target,
		State:      s.state,
		Notes:      "no data: all sources failed",
	}

	outcome := Outcome{NoData: true}
	if err := s.persist(ctx, rec, meta, now, false); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// dispatch delivers the notification, converting any channel failure
// into delivered=false.
func (s *Service) dispatch(ctx context.Context, note alerting.Notification) bool {
	if s.notifier == nil {
		s.logger.Error().Msg("no notifier configured, skipping dispatch")
		return false
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", note.Kind).Msg("failed to dispatch notification")
		return false
	}
	s.logger.Info().Str("kind", note.Kind).Msg("notification delivered")
	return true
}

// persist appends the record, refreshes metadata atomically, and mirrors
// to the archive when one is configured. A history write failure is
// fatal for the run; an archive failure is not.
func (s *Service) persist(ctx context.Context, rec storage.RateRecord, meta storage.Metadata, now time.Time, hasData bool) error {
	if err := s.history.Append(rec); err != nil {
		return fmt.Errorf("append rate record: %w", err)
	}

	if meta.Created.IsZero() {
		meta.Created = now
	}
	meta.LastRunAt = now
	meta.TotalRecords++
	if hasData {
		meta.Stats.Absorb(rec.Rate)
		rate := rec.Rate
		meta.LatestRate = &rate
		meta.SourcesUsed = mergeSources(meta.SourcesUsed, rec.Sources)
	}
	if rec.AlertSent {
		sentAt := now
		meta.LastAlertSentAt = &sentAt
	}
	if rec.DailyReportSent {
		sentAt := now
		meta.LastReportSentAt = &sentAt
	}
	meta.RateTrend = s.currentTrend()

	if err := s.history.WriteMetadata(meta); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}

	if s.archive != nil {
		if err := s.archive.InsertRecord(ctx, rec); err != nil {
			s.logger.Error().Err(err).Msg("failed to mirror record to archive")
		}
	}
	return nil
}

func (s *Service) currentTrend() string {
	summary, err := s.history.Summary(trendWindow)
	if err != nil {
		s.logger.Warn().Err(err).Msg("trend unavailable")
		return storage.TrendInsufficient
	}
	return summary.Trend
}

func mergeSources(known, seen []string) []string {
	for _, src := range seen {
		found := false
		for _, k := range known {
			if strings.EqualFold(k, src) {
				found = true
				break
			}
		}
		if !found {
			known = append(known, src)
		}
	}
	return known
}
