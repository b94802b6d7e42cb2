package fetcher

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// Published 30-year rates live well inside this band; anything outside it
// is a scrape hitting the wrong element, not a real quote.
var (
	minValidRate = decimal.NewFromFloat(2.0)
	maxValidRate = decimal.NewFromFloat(15.0)
)

var ratePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+\.\d+)%`),
	regexp.MustCompile(`(?i)(\d+\.\d+)\s*percent`),
	regexp.MustCompile(`(?i)rate[:\s]*(\d+\.\d+)`),
	regexp.MustCompile(`(?i)(\d+\.\d+)\s*APR`),
}

var percentPattern = regexp.MustCompile(`(\d+\.\d+)%`)

// ValidRate reports whether a fetched value looks like a real mortgage rate.
func ValidRate(rate decimal.Decimal) bool {
	return rate.GreaterThanOrEqual(minValidRate) && rate.LessThanOrEqual(maxValidRate)
}

// extractRate pulls the first plausible rate out of a text fragment.
func extractRate(text string) (decimal.Decimal, bool) {
	for _, pattern := range ratePatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		rate, err := decimal.NewFromString(match[1])
		if err != nil {
			continue
		}
		if ValidRate(rate) {
			return rate, true
		}
	}
	return decimal.Decimal{}, false
}

// findRateInText scans a whole page text for any in-bounds percentage.
// Last-resort fallback when no selector matched.
func findRateInText(text string) (decimal.Decimal, bool) {
	for _, match := range percentPattern.FindAllStringSubmatch(text, -1) {
		rate, err := decimal.NewFromString(match[1])
		if err != nil {
			continue
		}
		if ValidRate(rate) {
			return rate, true
		}
	}
	return decimal.Decimal{}, false
}
