package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Sample is a single rate observation from one source.
type Sample struct {
	Source    string
	Rate      decimal.Decimal
	FetchedAt time.Time
}

// Source fetches the current refinance rate from one upstream.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (decimal.Decimal, error)
}

// Fetcher queries a fixed set of sources and tolerates individual failures.
type Fetcher struct {
	sources []Source
	timeout time.Duration
	logger  zerolog.Logger
}

// New constructs a Fetcher over the given sources.
func New(sources []Source, timeout time.Duration, logger zerolog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		sources: sources,
		timeout: timeout,
		logger:  logger.With().Str("component", "fetcher").Logger(),
	}
}

// FetchAll queries every source concurrently with a per-source timeout.
// A failed or out-of-bounds source is logged and skipped; the returned
// samples keep the configured source order. When every source fails the
// result is empty, never an error; the caller decides what a data-free
// run means.
func (f *Fetcher) FetchAll(ctx context.Context) []Sample {
	results := make([]*Sample, len(f.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range f.sources {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, f.timeout)
			defer cancel()

			rate, err := src.Fetch(fetchCtx)
			if err != nil {
				f.logger.Warn().Err(err).Str("source", src.Name()).Msg("source fetch failed")
				return nil
			}
			if !ValidRate(rate) {
				f.logger.Warn().Str("source", src.Name()).Str("rate", rate.String()).Msg("rate outside valid bounds, discarding")
				return nil
			}

			f.logger.Info().Str("source", src.Name()).Str("rate", rate.String()).Msg("source fetch succeeded")
			results[i] = &Sample{Source: src.Name(), Rate: rate, FetchedAt: time.Now().UTC()}
			return nil
		})
	}
	_ = g.Wait()

	samples := make([]Sample, 0, len(results))
	for _, r := range results {
		if r != nil {
			samples = append(samples, *r)
		}
	}
	return samples
}

// SourceNames returns the configured source order.
func (f *Fetcher) SourceNames() []string {
	names := make([]string, len(f.sources))
	for i, src := range f.sources {
		names[i] = src.Name()
	}
	return names
}
