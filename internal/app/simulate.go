package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/fetcher"
	"mortgage-rate-alerts/internal/service"
	"mortgage-rate-alerts/internal/storage"
)

// SimulateAlert 以固定利率走一遍完整流程，用于验证通知通道。
// Persistence is skipped; only the gates and the channel are exercised.
func (a *App) SimulateAlert(ctx context.Context, rate decimal.Decimal) error {
	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	svc := service.New(a.Config, staticFetcher{rate: rate}, noopHistory{}, nil, notifier, a.Logger)

	outcome, err := svc.RunCheck(ctx)
	if err != nil {
		return err
	}
	if !outcome.ThresholdCrossed && !outcome.DailyReportDue {
		return fmt.Errorf("rate %s did not cross target %.2f and no daily report is due; nothing sent",
			rate.StringFixed(3), a.Config.Alert.TargetRate)
	}
	if !outcome.Delivered {
		return fmt.Errorf("notification dispatch failed, check channel credentials")
	}
	return nil
}

type staticFetcher struct {
	rate decimal.Decimal
}

func (s staticFetcher) FetchAll(ctx context.Context) []fetcher.Sample {
	return []fetcher.Sample{{Source: "simulated", Rate: s.rate, FetchedAt: time.Now().UTC()}}
}

// noopHistory satisfies the service without touching the real files.
type noopHistory struct{}

func (noopHistory) Append(storage.RateRecord) error      { return nil }
func (noopHistory) Metadata() (storage.Metadata, error)  { return storage.Metadata{}, nil }
func (noopHistory) WriteMetadata(storage.Metadata) error { return nil }
func (noopHistory) Summary(int) (storage.Summary, error) {
	return storage.Summary{Trend: storage.TrendInsufficient}, nil
}

var _ service.SampleFetcher = staticFetcher{}
var _ service.HistoryStore = noopHistory{}
