package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Browser-like agent; the rate pages block obvious bots.
const defaultScrapeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PageOptions parameterise an HTML rate source.
type PageOptions struct {
	URLs      []string // tried in order until one yields a rate
	Timeout   time.Duration
	UserAgent string
}

// HTMLPage scrapes a published rate out of a web page: a list of CSS
// selectors is tried first, then a percentage pattern over the whole
// page text as a fallback.
type HTMLPage struct {
	name      string
	urls      []string
	selectors []string
	client    *http.Client
	userAgent string
	logger    zerolog.Logger
}

func newHTMLPage(name string, selectors []string, defaults []string, opts PageOptions, logger zerolog.Logger) *HTMLPage {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	urls := opts.URLs
	if len(urls) == 0 {
		urls = defaults
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultScrapeUserAgent
	}

	return &HTMLPage{
		name:      name,
		urls:      urls,
		selectors: selectors,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger.With().Str("component", name+"_fetcher").Logger(),
	}
}

// NewBankrate scrapes bankrate.com refinance pages.
func NewBankrate(opts PageOptions, logger zerolog.Logger) *HTMLPage {
	return newHTMLPage("bankrate",
		[]string{
			".rate-value",
			".current-rate",
			`[data-testid="rate-value"]`,
			".mortgage-rate",
			".refinance-rate",
			".interest-rate",
			".rate-display",
		},
		[]string{
			"https://www.bankrate.com/mortgages/refinance-rates/",
			"https://www.bankrate.com/mortgages/",
			"https://www.bankrate.com/mortgage-rates/",
		},
		opts, logger)
}

// NewMortgageNewsDaily scrapes the MND rates page.
func NewMortgageNewsDaily(opts PageOptions, logger zerolog.Logger) *HTMLPage {
	return newHTMLPage("mortgage_news_daily",
		[]string{
			".rate-value",
			".current-rate",
			".mortgage-rate",
			"[data-rate]",
		},
		[]string{"https://www.mortgagenewsdaily.com/mortgage-rates"},
		opts, logger)
}

// NewFreddieMac scrapes the Primary Mortgage Market Survey page.
func NewFreddieMac(opts PageOptions, logger zerolog.Logger) *HTMLPage {
	return newHTMLPage("freddiemac",
		[]string{
			".pmms-rate",
			".survey-rate",
			".rate-value",
			".current-rate",
			".mortgage-rate",
		},
		[]string{"https://www.freddiemac.com/pmms/"},
		opts, logger)
}

// Name identifies the source in samples and history rows.
func (p *HTMLPage) Name() string { return p.name }

// Fetch tries each configured URL until one yields an in-bounds rate.
func (p *HTMLPage) Fetch(ctx context.Context) (decimal.Decimal, error) {
	if len(p.urls) == 0 {
		return decimal.Decimal{}, errors.New("no urls configured")
	}

	var lastErr error
	for _, pageURL := range p.urls {
		rate, err := p.fetchPage(ctx, pageURL)
		if err != nil {
			lastErr = err
			p.logger.Debug().Err(err).Str("url", pageURL).Msg("page yielded no rate")
			continue
		}
		return rate, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%s: no rate found on any page: %w", p.name, lastErr)
}

func (p *HTMLPage) fetchPage(ctx context.Context, pageURL string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := doWithRetry(p.client, req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("http %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse html: %w", err)
	}

	return p.extract(doc)
}

func (p *HTMLPage) extract(doc *goquery.Document) (decimal.Decimal, error) {
	var found decimal.Decimal
	var ok bool

	for _, selector := range p.selectors {
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if rate, matched := extractRate(strings.TrimSpace(sel.Text())); matched {
				found, ok = rate, true
				return false
			}
			return true
		})
		if ok {
			return found, nil
		}
	}

	if rate, matched := findRateInText(doc.Text()); matched {
		p.logger.Debug().Str("rate", rate.String()).Msg("rate found via text fallback")
		return rate, nil
	}

	return decimal.Decimal{}, errors.New("no rate in document")
}

var _ Source = (*HTMLPage)(nil)
