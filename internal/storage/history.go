package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	ratesFileName    = "rates.csv"
	metadataFileName = "metadata.json"
)

// historyHeader is the fixed column set of the rates table. Existing
// files are never rewritten, so the order must not change.
var historyHeader = []string{
	"date", "timestamp", "rate", "source", "target_rate",
	"state", "alert_sent", "daily_report_sent", "notes",
}

// History is the durable rate table plus its metadata singleton:
// an append-only CSV and a JSON blob replaced atomically each run.
type History struct {
	dir       string
	ratesPath string
	metaPath  string
	logger    zerolog.Logger
}

// NewHistory opens (creating if needed) the history files under dir.
func NewHistory(dir string, logger zerolog.Logger) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	h := &History{
		dir:       dir,
		ratesPath: filepath.Join(dir, ratesFileName),
		metaPath:  filepath.Join(dir, metadataFileName),
		logger:    logger.With().Str("component", "history").Logger(),
	}

	if err := h.initRatesFile(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *History) initRatesFile() error {
	if _, err := os.Stat(h.ratesPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat rates file: %w", err)
	}

	file, err := os.OpenFile(h.ratesPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create rates file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(historyHeader); err != nil {
		return fmt.Errorf("write rates header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("write rates header: %w", err)
	}

	h.logger.Info().Str("path", h.ratesPath).Msg("created new rates file")
	return nil
}

// Append adds one record to the end of the table. Prior rows are never
// touched.
func (h *History) Append(rec RateRecord) error {
	file, err := os.OpenFile(h.ratesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open rates file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
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
		return fmt.Errorf("append rate record: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("append rate record: %w", err)
	}
	return nil
}

// LoadRecent returns the last n rows in file order (oldest of the window
// first). n <= 0 returns every row.
func (h *History) LoadRecent(n int) ([]RateRecord, error) {
	records, err := h.loadAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (h *History) loadAll() ([]RateRecord, error) {
	file, err := os.Open(h.ratesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open rates file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rates file: %w", err)
	}

	records := make([]RateRecord, 0, len(rows))
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == historyHeader[0] {
			continue
		}
		rec, ok := parseHistoryRow(row)
		if !ok {
			h.logger.Debug().Int("line", i+1).Msg("skipping malformed history row")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseHistoryRow(row []string) (RateRecord, bool) {
	if len(row) < 9 {
		return RateRecord{}, false
	}

	ts, err := time.Parse(time.RFC3339, row[1])
	if err != nil {
		return RateRecord{}, false
	}
	rate, err := decimal.NewFromString(row[2])
	if err != nil {
		return RateRecord{}, false
	}
	target, err := decimal.NewFromString(row[4])
	if err != nil {
		return RateRecord{}, false
	}

	var sources []string
	if row[3] != "" {
		sources = strings.Split(row[3], ",")
	}

	return RateRecord{
		Date:            row[0],
		Timestamp:       ts,
		Rate:            rate,
		Sources:         sources,
		TargetRate:      target,
		State:           row[5],
		AlertSent:       row[6] == "true",
		DailyReportSent: row[7] == "true",
		Notes:           row[8],
	}, true
}

// Metadata reads the singleton metadata blob. A missing file yields a
// zero-valued Metadata, not an error.
func (h *History) Metadata() (Metadata, error) {
	raw, err := os.ReadFile(h.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, nil
		}
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// WriteMetadata replaces the metadata blob atomically: the new content
// lands in a temp file first and is renamed over the old one, so a crash
// mid-write leaves the previous version intact.
func (h *History) WriteMetadata(meta Metadata) error {
	if size, err := h.fileSizeKB(); err == nil {
		meta.DataSizeKB = size
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tmp, err := os.CreateTemp(h.dir, metadataFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata temp file: %w", err)
	}

	if err := os.Rename(tmpPath, h.metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace metadata: %w", err)
	}
	return nil
}

func (h *History) fileSizeKB() (float64, error) {
	info, err := os.Stat(h.ratesPath)
	if err != nil {
		return 0, err
	}
	return math.Round(float64(info.Size())/1024*100) / 100, nil
}

// Summary computes window statistics over the most recent rows. Records
// counts only rate-bearing rows; with fewer than two it reports an
// insufficient-data trend instead of failing.
func (h *History) Summary(window int) (Summary, error) {
	records, err := h.LoadRecent(window)
	if err != nil {
		return Summary{}, err
	}
	return summarize(records), nil
}

func summarize(records []RateRecord) Summary {
	rates := make([]decimal.Decimal, 0, len(records))
	for _, rec := range records {
		// audit rows from data-free runs carry no rate
		if rec.Rate.IsZero() {
			continue
		}
		rates = append(rates, rec.Rate)
	}
	if len(rates) == 0 {
		return Summary{Trend: TrendInsufficient}
	}

	min, max := rates[0], rates[0]
	for _, r := range rates[1:] {
		if r.LessThan(min) {
			min = r
		}
		if r.GreaterThan(max) {
			max = r
		}
	}

	mean := decimal.Avg(rates[0], rates[1:]...)

	return Summary{
		Records:    len(rates),
		Latest:     rates[len(rates)-1],
		Min:        min,
		Max:        max,
		Mean:       mean,
		Volatility: volatility(rates),
		Trend:      trend(rates),
	}
}

// trend compares first-half and second-half means of the window.
func trend(rates []decimal.Decimal) string {
	if len(rates) < 2 {
		return TrendInsufficient
	}

	mid := len(rates) / 2
	first := decimal.Avg(rates[0], rates[1:mid]...)
	second := decimal.Avg(rates[mid], rates[mid+1:]...)

	band := decimal.NewFromFloat(0.1)
	switch {
	case second.GreaterThan(first.Add(band)):
		return TrendRising
	case second.LessThan(first.Sub(band)):
		return TrendFalling
	default:
		return TrendStable
	}
}

func volatility(rates []decimal.Decimal) float64 {
	if len(rates) < 2 {
		return 0
	}

	var sum float64
	floats := make([]float64, len(rates))
	for i, r := range rates {
		floats[i] = r.InexactFloat64()
		sum += floats[i]
	}
	mean := sum / float64(len(floats))

	var sumSq float64
	for _, f := range floats {
		d := f - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(floats)))
}
