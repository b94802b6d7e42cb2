package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateRecord is one appended row of rate history.
type RateRecord struct {
	Date            string // calendar date, 2006-01-02
	Timestamp       time.Time
	Rate            decimal.Decimal
	Sources         []string
	TargetRate      decimal.Decimal
	State           string
	AlertSent       bool
	DailyReportSent bool
	Notes           string
}

// CumulativeStats accumulate over the whole history file.
type CumulativeStats struct {
	Count int64           `json:"count"`
	Min   decimal.Decimal `json:"min"`
	Max   decimal.Decimal `json:"max"`
	Mean  decimal.Decimal `json:"mean"`
}

// Absorb folds one more rate into the running statistics.
func (s *CumulativeStats) Absorb(rate decimal.Decimal) {
	if s.Count == 0 {
		s.Count = 1
		s.Min = rate
		s.Max = rate
		s.Mean = rate
		return
	}
	s.Count++
	if rate.LessThan(s.Min) {
		s.Min = rate
	}
	if rate.GreaterThan(s.Max) {
		s.Max = rate
	}
	s.Mean = s.Mean.Add(rate.Sub(s.Mean).Div(decimal.NewFromInt(s.Count)))
}

// Metadata is the singleton run-state blob, overwritten each run.
type Metadata struct {
	Created          time.Time        `json:"created"`
	LastRunAt        time.Time        `json:"last_run_at"`
	LastAlertSentAt  *time.Time       `json:"last_alert_sent_at,omitempty"`
	LastReportSentAt *time.Time       `json:"last_report_sent_at,omitempty"`
	TotalRecords     int64            `json:"total_records"`
	SourcesUsed      []string         `json:"sources_used"`
	LatestRate       *decimal.Decimal `json:"latest_rate,omitempty"`
	RateTrend        string           `json:"rate_trend"`
	Stats            CumulativeStats  `json:"cumulative_stats"`
	DataSizeKB       float64          `json:"data_size_kb"`
}

// ReportSentToday reports whether a daily report already went out on the
// given calendar day (in the day's location).
func (m Metadata) ReportSentToday(now time.Time) bool {
	if m.LastReportSentAt == nil {
		return false
	}
	y1, m1, d1 := m.LastReportSentAt.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Summary aggregates a recent window of history rows.
type Summary struct {
	Records    int
	Latest     decimal.Decimal
	Min        decimal.Decimal
	Max        decimal.Decimal
	Mean       decimal.Decimal
	Volatility float64
	Trend      string
}

// Trend labels reported by Summary and Metadata.
const (
	TrendRising       = "rising"
	TrendFalling      = "falling"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)
