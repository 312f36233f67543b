// Package alphavantage implements domain.PriceDataSource over the Alpha
// Vantage TIME_SERIES_INTRADAY endpoint.
package alphavantage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

const (
	// DefaultBaseURL is the public query endpoint
	DefaultBaseURL = "https://www.alphavantage.co/query"

	// Interval is the bar width requested from the API
	Interval = "5min"

	seriesKey   = "Time Series (" + Interval + ")"
	maxBodySize = 4 << 20
)

// Paths into the decoded payload
const (
	timezonePath    = `$["Meta Data"]["6. Time Zone"]`
	notePath        = `$.Note`
	informationPath = `$.Information`
	errorPath       = `$["Error Message"]`
)

// Config holds the client settings
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client is an Alpha Vantage API client
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a new Alpha Vantage client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// Symbol joins ticker and market suffix the way the API expects ("WLE.AX")
func Symbol(ticker, marketSuffix string) string {
	if marketSuffix == "" {
		return ticker
	}
	return ticker + "." + marketSuffix
}

// FetchIntraday implements domain.PriceDataSource
func (c *Client) FetchIntraday(ctx context.Context, ticker, marketSuffix string) (*domain.IntradayResponse, error) {
	symbol := Symbol(ticker, marketSuffix)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrDataSourceUnavailable, err)
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_INTRADAY")
	params.Set("symbol", symbol)
	params.Set("interval", Interval)
	params.Set("apikey", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDataSourceUnavailable, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("symbol", symbol).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Intraday request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", domain.ErrDataSourceUnavailable, symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", domain.ErrDataSourceUnavailable, err)
	}

	out, err := parseIntraday(body)
	if err != nil {
		if errors.Is(err, domain.ErrDataSourceUnavailable) {
			c.log.Warn().Str("symbol", symbol).Err(err).Msg("Alpha Vantage refused request")
		}
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	retrievedAt, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: Date header %q: %v", symbol, domain.ErrMalformedResponse, resp.Header.Get("Date"), err)
	}
	out.RetrievedAt = retrievedAt.UTC()

	return out, nil
}

// parseIntraday decodes an intraday payload. Rate-limit notes map to
// ErrDataSourceUnavailable; anything missing maps to ErrMalformedResponse.
func parseIntraday(body []byte) (*domain.IntradayResponse, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", domain.ErrMalformedResponse, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: payload is not an object", domain.ErrMalformedResponse)
	}

	if msg, ok := lookupString(doc, notePath); ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDataSourceUnavailable, msg)
	}
	if msg, ok := lookupString(doc, informationPath); ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDataSourceUnavailable, msg)
	}
	if msg, ok := lookupString(doc, errorPath); ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformedResponse, msg)
	}

	zone, ok := lookupString(doc, timezonePath)
	if !ok {
		return nil, fmt.Errorf("%w: meta data time zone is missing", domain.ErrMalformedResponse)
	}

	series, err := decodeSeries(body)
	if err != nil {
		return nil, err
	}

	return &domain.IntradayResponse{
		Series:         series,
		SourceTimezone: zone,
	}, nil
}

func lookupString(doc any, path string) (string, bool) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

type bar struct {
	Close string `json:"4. close"`
}

// decodeSeries walks the token stream so the series keeps the order the API
// sent it in. Decoding into a map would lose it.
func decodeSeries(body []byte) ([]domain.IntradayBar, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		if key != seriesKey {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
			}
			continue
		}

		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		var series []domain.IntradayBar
		for dec.More() {
			ts, err := readKey(dec)
			if err != nil {
				return nil, err
			}
			var b bar
			if err := dec.Decode(&b); err != nil {
				return nil, fmt.Errorf("%w: bar %s: %v", domain.ErrMalformedResponse, ts, err)
			}
			series = append(series, domain.IntradayBar{Timestamp: ts, Close: b.Close})
		}
		if len(series) == 0 {
			return nil, fmt.Errorf("%w: %q is empty", domain.ErrMalformedResponse, seriesKey)
		}
		return series, nil
	}

	return nil, fmt.Errorf("%w: %q is missing", domain.ErrMalformedResponse, seriesKey)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", domain.ErrMalformedResponse, want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected object key, got %v", domain.ErrMalformedResponse, tok)
	}
	return key, nil
}
