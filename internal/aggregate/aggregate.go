// Package aggregate folds per-source rate samples into a single estimate
// with a confidence label.
package aggregate

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/fetcher"
)

// ErrNoSamples marks a run in which every source failed.
var ErrNoSamples = errors.New("aggregate: no samples")

// Confidence labels how much the contributing sources agree.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Heuristic thresholds for the coefficient of variation, carried over
// from the original survey tooling.
const (
	highConfidenceCV   = 0.05
	mediumConfidenceCV = 0.10
)

// Result is the aggregated rate for one run.
type Result struct {
	Value      decimal.Decimal
	Sources    []string
	Count      int
	Min        decimal.Decimal
	Max        decimal.Decimal
	Mean       decimal.Decimal
	Spread     decimal.Decimal
	Confidence Confidence
	ComputedAt time.Time
}

// Aggregate computes the median of the sample values and a confidence
// label. The result depends only on the multiset of values, never on
// fetch order: values are sorted before the median, and Sources keeps
// the order samples were first observed in.
func Aggregate(samples []fetcher.Sample) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrNoSamples
	}

	values := make([]decimal.Decimal, len(samples))
	sources := make([]string, len(samples))
	for i, s := range samples {
		values[i] = s.Rate
		sources[i] = s.Source
	}

	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	var median decimal.Decimal
	if len(sorted)%2 == 1 {
		median = sorted[mid]
	} else {
		median = decimal.Avg(sorted[mid-1], sorted[mid])
	}

	mean := decimal.Avg(values[0], values[1:]...)

	return Result{
		Value:      median,
		Sources:    sources,
		Count:      len(values),
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       mean,
		Spread:     sorted[len(sorted)-1].Sub(sorted[0]),
		Confidence: classify(sorted),
		ComputedAt: time.Now().UTC(),
	}, nil
}

// classify grades agreement via the coefficient of variation
// (sample standard deviation over mean).
func classify(values []decimal.Decimal) Confidence {
	if len(values) < 2 {
		return ConfidenceLow
	}

	floats := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		floats[i] = v.InexactFloat64()
		sum += floats[i]
	}
	mean := sum / float64(len(floats))
	if mean <= 0 {
		return ConfidenceLow
	}

	var sumSq float64
	for _, f := range floats {
		d := f - mean
		sumSq += d * d
	}
	stdev := math.Sqrt(sumSq / float64(len(floats)-1))
	cv := stdev / mean

	switch {
	case len(values) >= 3 && cv < highConfidenceCV:
		return ConfidenceHigh
	case len(values) >= 2 && cv < mediumConfidenceCV:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
