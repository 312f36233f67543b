// Package asx scrapes company fundamentals from the ASX share price research
// pages and implements domain.FundamentalsFetcher.
package asx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

// DefaultBaseURL is the research site root
const DefaultBaseURL = "https://www.asx.com.au/asx"

// Config holds the fetcher settings
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string
}

// Fetcher scrapes statistics and details pages
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewFetcher creates a new ASX fundamentals fetcher
func NewFetcher(cfg Config, log zerolog.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; lictracker/1.0)"
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:     log.With().Str("client", "asx").Logger(),
	}
}

// StatisticsURL returns the share statistics page of ticker
func (f *Fetcher) StatisticsURL(ticker string) string {
	return f.companyURL(ticker) + "/statistics/shares"
}

// DetailsURL returns the company details page of ticker
func (f *Fetcher) DetailsURL(ticker string) string {
	return f.companyURL(ticker) + "/details"
}

func (f *Fetcher) companyURL(ticker string) string {
	return f.cfg.BaseURL + "/share-price-research/company/" + strings.ToUpper(ticker)
}

// FetchStatistics implements domain.FundamentalsFetcher
func (f *Fetcher) FetchStatistics(ctx context.Context, ticker string) (*domain.Statistics, error) {
	doc, err := f.get(ctx, f.StatisticsURL(ticker))
	if err != nil {
		return nil, err
	}

	raw, ok := field(doc, "shares issued", "issued shares")
	if !ok {
		return nil, fmt.Errorf("%w: %s: shares issued not found on statistics page", domain.ErrMalformedResponse, ticker)
	}
	shares, err := parseCount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: shares issued %q: %v", domain.ErrMalformedResponse, ticker, raw, err)
	}

	return &domain.Statistics{SharesIssued: shares}, nil
}

// FetchDetails implements domain.FundamentalsFetcher.
// The research pages do not expose an explicit LIC flag; an empty or
// investment-trust style sector falls back to domain.SectorLIC.
func (f *Fetcher) FetchDetails(ctx context.Context, ticker string) (*domain.Details, error) {
	pageURL := f.DetailsURL(ticker)
	doc, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	name, ok := field(doc, "name", "company name")
	if !ok {
		name = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if name == "" {
		return nil, fmt.Errorf("%w: %s: company name not found on details page", domain.ErrMalformedResponse, ticker)
	}

	website := pageURL
	if href, ok := fieldLink(doc, "website", "internet address"); ok {
		website = href
	}

	sector, _ := field(doc, "sector", "gics industry group", "industry")

	return &domain.Details{
		Name:      collapseSpaces(name),
		SourceURL: website,
		Sector:    classifySector(sector),
	}, nil
}

func (f *Fetcher) get(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrDataSourceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDataSourceUnavailable, err)
	}
	defer resp.Body.Close()

	f.log.Debug().
		Str("url", pageURL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Research page fetched")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", domain.ErrDataSourceUnavailable, pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", domain.ErrMalformedResponse, pageURL, err)
	}
	return doc, nil
}

// field finds the value cell of a labelled table row or definition term.
// Labels are matched case-insensitively against the trimmed label text.
func field(doc *goquery.Document, labels ...string) (string, bool) {
	cell := fieldCell(doc, labels...)
	if cell == nil {
		return "", false
	}
	text := strings.TrimSpace(cell.Text())
	return text, text != ""
}

func fieldLink(doc *goquery.Document, labels ...string) (string, bool) {
	cell := fieldCell(doc, labels...)
	if cell == nil {
		return "", false
	}
	href, ok := cell.Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	return strings.TrimSpace(href), true
}

func fieldCell(doc *goquery.Document, labels ...string) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("tr, dt").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var label, value *goquery.Selection
		if goquery.NodeName(s) == "dt" {
			label, value = s, s.NextFiltered("dd")
		} else {
			cells := s.Children().Filter("th, td")
			if cells.Length() < 2 {
				return true
			}
			label, value = cells.First(), cells.Eq(1)
		}
		if value.Length() == 0 || !matchesLabel(label.Text(), labels) {
			return true
		}
		found = value
		return false
	})
	return found
}

func matchesLabel(text string, labels []string) bool {
	text = strings.ToLower(strings.TrimSuffix(collapseSpaces(text), ":"))
	for _, l := range labels {
		if text == l {
			return true
		}
	}
	return false
}

// parseCount parses "1,234,567" style integers
func parseCount(s string) (int64, error) {
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(s))
	return strconv.ParseInt(s, 10, 64)
}

func classifySector(sector string) string {
	sector = collapseSpaces(sector)
	if sector == "" || sector == "-" {
		return domain.SectorLIC
	}
	lower := strings.ToLower(sector)
	if strings.Contains(lower, "investment compan") || strings.Contains(lower, "investment trust") {
		return domain.SectorLIC
	}
	return sector
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
