package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return h
}

func testRecord(day int, rate string) RateRecord {
	ts := time.Date(2026, 8, day, 9, 0, 0, 0, time.UTC)
	return RateRecord{
		Date:       ts.Format("2006-01-02"),
		Timestamp:  ts,
		Rate:       decimal.RequireFromString(rate),
		Sources:    []string{"fred", "bankrate"},
		TargetRate: decimal.RequireFromString("6.0"),
		State:      "CA",
		Notes:      "confidence: medium, spread: 0.1",
	}
}

func TestHistoryCreatesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	_, err := NewHistory(dir, zerolog.Nop())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "rates.csv"))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(historyHeader, ",")+"\n", string(raw))

	// reopening must not rewrite the file
	_, err = NewHistory(dir, zerolog.Nop())
	require.NoError(t, err)
	again, err := os.ReadFile(filepath.Join(dir, "rates.csv"))
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestHistoryAppendAndLoadRecent(t *testing.T) {
	h := newTestHistory(t)

	for i, rate := range []string{"6.5", "6.4", "6.3", "6.2"} {
		require.NoError(t, h.Append(testRecord(i+1, rate)))
	}

	records, err := h.LoadRecent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "6.3", records[0].Rate.String())
	assert.Equal(t, "6.2", records[1].Rate.String())
	assert.Equal(t, []string{"fred", "bankrate"}, records[1].Sources)
	assert.Equal(t, "CA", records[1].State)

	all, err := h.LoadRecent(0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestHistoryAppendLeavesPriorBytesUntouched(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHistory(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, h.Append(testRecord(1, "6.5")))
	before, err := os.ReadFile(filepath.Join(dir, "rates.csv"))
	require.NoError(t, err)

	require.NoError(t, h.Append(testRecord(2, "6.4")))
	after, err := os.ReadFile(filepath.Join(dir, "rates.csv"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(after), string(before)))
}

func TestHistorySkipsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHistory(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, h.Append(testRecord(1, "6.5")))

	file, err := os.OpenFile(filepath.Join(dir, "rates.csv"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString("2026-08-02,not-a-timestamp,abc,fred,6.0,CA,false,false,\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, h.Append(testRecord(3, "6.3")))

	records, err := h.LoadRecent(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "6.5", records[0].Rate.String())
	assert.Equal(t, "6.3", records[1].Rate.String())
}

func TestMetadataMissingFile(t *testing.T) {
	h := newTestHistory(t)

	meta, err := h.Metadata()
	require.NoError(t, err)
	assert.Zero(t, meta.TotalRecords)
	assert.Nil(t, meta.LastReportSentAt)
}

func TestMetadataRoundTrip(t *testing.T) {
	h := newTestHistory(t)
	require.NoError(t, h.Append(testRecord(1, "6.5")))

	sent := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	latest := decimal.RequireFromString("6.5")
	meta := Metadata{
		Created:          sent,
		LastRunAt:        sent,
		LastReportSentAt: &sent,
		TotalRecords:     1,
		SourcesUsed:      []string{"fred"},
		LatestRate:       &latest,
		RateTrend:        TrendStable,
	}
	meta.Stats.Absorb(latest)
	require.NoError(t, h.WriteMetadata(meta))

	got, err := h.Metadata()
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalRecords)
	assert.Equal(t, []string{"fred"}, got.SourcesUsed)
	require.NotNil(t, got.LatestRate)
	assert.Equal(t, "6.5", got.LatestRate.String())
	assert.Greater(t, got.DataSizeKB, 0.0)

	// no temp files left behind
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestReportSentToday(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	var meta Metadata
	assert.False(t, meta.ReportSentToday(now))

	morning := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	meta.LastReportSentAt = &morning
	assert.True(t, meta.ReportSentToday(now))

	yesterday := morning.AddDate(0, 0, -1)
	meta.LastReportSentAt = &yesterday
	assert.False(t, meta.ReportSentToday(now))
}

func TestCumulativeStatsAbsorb(t *testing.T) {
	var stats CumulativeStats
	for _, rate := range []string{"6.0", "6.5", "7.0"} {
		stats.Absorb(decimal.RequireFromString(rate))
	}

	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, "6.0", stats.Min.String())
	assert.Equal(t, "7.0", stats.Max.String())
	assert.True(t, stats.Mean.Equal(decimal.RequireFromString("6.5")), "mean = %s", stats.Mean)
}

func TestSummaryTrends(t *testing.T) {
	h := newTestHistory(t)

	rates := []string{"6.8", "6.7", "6.5", "6.3", "6.2", "6.1"}
	for i, rate := range rates {
		require.NoError(t, h.Append(testRecord(i+1, rate)))
	}

	summary, err := h.Summary(len(rates))
	require.NoError(t, err)
	assert.Equal(t, len(rates), summary.Records)
	assert.Equal(t, "6.1", summary.Latest.String())
	assert.Equal(t, "6.1", summary.Min.String())
	assert.Equal(t, "6.8", summary.Max.String())
	assert.Equal(t, TrendFalling, summary.Trend)
	assert.Greater(t, summary.Volatility, 0.0)
}

func TestSummarySkipsAuditRows(t *testing.T) {
	h := newTestHistory(t)

	audit := testRecord(1, "0")
	audit.Sources = nil
	audit.Notes = "no data: all sources failed"
	require.NoError(t, h.Append(audit))

	summary, err := h.Summary(0)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Records)
	assert.Equal(t, TrendInsufficient, summary.Trend)

	require.NoError(t, h.Append(testRecord(2, "6.4")))
	summary, err = h.Summary(0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, "6.4", summary.Latest.String())
}

func TestSummarySingleRowInsufficientTrend(t *testing.T) {
	h := newTestHistory(t)
	require.NoError(t, h.Append(testRecord(1, "6.5")))

	summary, err := h.Summary(0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, TrendInsufficient, summary.Trend)
	assert.Equal(t, 0.0, summary.Volatility)
}

func TestHistoryRecordsNestedDirCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	_, err := NewHistory(dir, zerolog.Nop())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "rates.csv"))
	require.NoError(t, err)
}
