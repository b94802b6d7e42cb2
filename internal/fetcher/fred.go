package fetcher

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// MORTGAGE30US is the FRED series for the 30-year fixed average.
	fredSeriesID = "MORTGAGE30US"

	fredAPIBase    = "https://api.stlouisfed.org"
	fredPublicBase = "https://fred.stlouisfed.org"
)

// FREDOptions parameterise the statistical-series fetcher.
type FREDOptions struct {
	APIKey    string
	BaseURL   string // overrides both API and public hosts; used in tests
	Timeout   time.Duration
	UserAgent string
}

// FRED reads the official 30-year fixed mortgage average from the
// St. Louis Fed. With an API key it uses the observations API; without
// one it falls back to the public fredgraph CSV endpoint.
type FRED struct {
	opts   FREDOptions
	client *http.Client
	logger zerolog.Logger
}

// NewFRED constructs the FRED source.
func NewFRED(opts FREDOptions, logger zerolog.Logger) *FRED {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FRED{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "fred_fetcher").Logger(),
	}
}

// Observation is one dated value of the series.
type Observation struct {
	Date time.Time
	Rate decimal.Decimal
}

type fredPayload struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Name identifies the source in samples and history rows.
func (f *FRED) Name() string { return "fred" }

// Fetch retrieves the latest observation of the series.
func (f *FRED) Fetch(ctx context.Context) (decimal.Decimal, error) {
	if f.opts.APIKey != "" {
		return f.fetchAPI(ctx)
	}
	return f.fetchPublicCSV(ctx)
}

func (f *FRED) fetchAPI(ctx context.Context) (decimal.Decimal, error) {
	base := f.opts.BaseURL
	if base == "" {
		base = fredAPIBase
	}

	query := url.Values{}
	query.Set("series_id", fredSeriesID)
	query.Set("api_key", f.opts.APIKey)
	query.Set("file_type", "json")
	query.Set("sort_order", "desc")
	query.Set("limit", "1")

	endpoint := strings.TrimRight(base, "/") + "/fred/series/observations?" + query.Encode()
	body, err := f.get(ctx, endpoint)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var payload fredPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode fred response: %w", err)
	}

	if len(payload.Observations) == 0 {
		return decimal.Decimal{}, errors.New("fred returned no observations")
	}

	value := strings.TrimSpace(payload.Observations[0].Value)
	if value == "" || value == "." {
		// FRED encodes missing data as "."
		return decimal.Decimal{}, errors.New("fred latest observation has no value")
	}

	rate, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse fred observation %q: %w", value, err)
	}
	return rate, nil
}

func (f *FRED) fetchPublicCSV(ctx context.Context) (decimal.Decimal, error) {
	base := f.opts.BaseURL
	if base == "" {
		base = fredPublicBase
	}

	endpoint := strings.TrimRight(base, "/") + "/graph/fredgraph.csv?id=" + fredSeriesID
	body, err := f.get(ctx, endpoint)
	if err != nil {
		return decimal.Decimal{}, err
	}

	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse fredgraph csv: %w", err)
	}
	if len(rows) < 2 {
		return decimal.Decimal{}, errors.New("fredgraph csv has no data rows")
	}

	// Most recent observation last; walk backwards past missing values.
	for i := len(rows) - 1; i >= 1; i-- {
		if len(rows[i]) < 2 {
			continue
		}
		value := strings.TrimSpace(rows[i][1])
		if value == "" || value == "." {
			continue
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			continue
		}
		return rate, nil
	}

	return decimal.Decimal{}, errors.New("no valid observation in fredgraph csv")
}

// FetchHistory retrieves dated observations of the series within
// [from, to), oldest first. Missing values are skipped.
func (f *FRED) FetchHistory(ctx context.Context, from, to time.Time) ([]Observation, error) {
	if f.opts.APIKey != "" {
		return f.historyAPI(ctx, from, to)
	}
	return f.historyPublicCSV(ctx, from, to)
}

func (f *FRED) historyAPI(ctx context.Context, from, to time.Time) ([]Observation, error) {
	base := f.opts.BaseURL
	if base == "" {
		base = fredAPIBase
	}

	query := url.Values{}
	query.Set("series_id", fredSeriesID)
	query.Set("api_key", f.opts.APIKey)
	query.Set("file_type", "json")
	query.Set("sort_order", "asc")
	query.Set("observation_start", from.Format("2006-01-02"))
	query.Set("observation_end", to.Format("2006-01-02"))

	endpoint := strings.TrimRight(base, "/") + "/fred/series/observations?" + query.Encode()
	body, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payload fredPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode fred response: %w", err)
	}

	observations := make([]Observation, 0, len(payload.Observations))
	for _, obs := range payload.Observations {
		if parsed, ok := parseObservation(obs.Date, obs.Value, from, to); ok {
			observations = append(observations, parsed)
		}
	}
	return observations, nil
}

func (f *FRED) historyPublicCSV(ctx context.Context, from, to time.Time) ([]Observation, error) {
	base := f.opts.BaseURL
	if base == "" {
		base = fredPublicBase
	}

	endpoint := strings.TrimRight(base, "/") + "/graph/fredgraph.csv?id=" + fredSeriesID
	body, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse fredgraph csv: %w", err)
	}

	var observations []Observation
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) < 2 {
			continue
		}
		if parsed, ok := parseObservation(rows[i][0], rows[i][1], from, to); ok {
			observations = append(observations, parsed)
		}
	}
	return observations, nil
}

// parseObservation validates one dated series value against the window.
// The FRED API treats observation_end as inclusive, so the upper bound is
// re-applied here to keep [from, to) semantics on both paths.
func parseObservation(dateStr, valueStr string, from, to time.Time) (Observation, bool) {
	value := strings.TrimSpace(valueStr)
	if value == "" || value == "." {
		return Observation{}, false
	}
	rate, err := decimal.NewFromString(value)
	if err != nil {
		return Observation{}, false
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(dateStr))
	if err != nil {
		return Observation{}, false
	}
	if date.Before(from) || !date.Before(to) {
		return Observation{}, false
	}
	return Observation{Date: date.UTC(), Rate: rate}, true
}

func (f *FRED) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := doWithRetry(f.client, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fred http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

var _ Source = (*FRED)(nil)
