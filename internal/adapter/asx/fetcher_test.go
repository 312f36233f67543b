package asx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

const statisticsPage = `<html><body>
<div class="primary">
  <table>
    <tr><th>Shares issued</th><td>1,234,567</td></tr>
    <tr><th>Market cap</th><td>$1.2bn</td></tr>
  </table>
</div>
</body></html>`

const detailsPage = `<html><body>
<div class="primary">
  <h1>WAM LEADERS LIMITED</h1>
  <dl>
    <dt>Name</dt><dd>WAM Leaders   Limited</dd>
    <dt>Website</dt><dd><a href="https://wilsonassetmanagement.com.au">wilsonassetmanagement.com.au</a></dd>
    <dt>Sector:</dt><dd>Financials</dd>
  </dl>
</div>
</body></html>`

func newPageServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(baseURL string) *Fetcher {
	return NewFetcher(Config{BaseURL: baseURL, RequestsPerSecond: 100, Timeout: 2 * time.Second}, zerolog.Nop())
}

func TestURLs(t *testing.T) {
	f := newTestFetcher("https://www.asx.com.au/asx/")

	assert.Equal(t, "https://www.asx.com.au/asx/share-price-research/company/WLE/statistics/shares", f.StatisticsURL("wle"))
	assert.Equal(t, "https://www.asx.com.au/asx/share-price-research/company/WLE/details", f.DetailsURL("WLE"))
}

func TestFetchStatistics(t *testing.T) {
	srv := newPageServer(t, map[string]string{
		"/share-price-research/company/WLE/statistics/shares": statisticsPage,
		"/share-price-research/company/BAD/statistics/shares": `<table><tr><th>Shares issued</th><td>n/a</td></tr></table>`,
		"/share-price-research/company/NON/statistics/shares": `<p>nothing here</p>`,
	})
	f := newTestFetcher(srv.URL)

	stats, err := f.FetchStatistics(context.Background(), "WLE")
	require.NoError(t, err)
	assert.Equal(t, int64(1234567), stats.SharesIssued)

	_, err = f.FetchStatistics(context.Background(), "BAD")
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))

	_, err = f.FetchStatistics(context.Background(), "NON")
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))

	_, err = f.FetchStatistics(context.Background(), "MISSING")
	assert.True(t, errors.Is(err, domain.ErrDataSourceUnavailable))
}

func TestFetchDetails(t *testing.T) {
	srv := newPageServer(t, map[string]string{
		"/share-price-research/company/WLE/details": detailsPage,
		"/share-price-research/company/AFI/details": `<h1>AUSTRALIAN FOUNDATION INVESTMENT COMPANY</h1>`,
		"/share-price-research/company/XXX/details": `<div></div>`,
	})
	f := newTestFetcher(srv.URL)

	details, err := f.FetchDetails(context.Background(), "WLE")
	require.NoError(t, err)
	assert.Equal(t, "WAM Leaders Limited", details.Name)
	assert.Equal(t, "https://wilsonassetmanagement.com.au", details.SourceURL)
	assert.Equal(t, "Financials", details.Sector)

	// no sector and no website: LIC fallback and the page itself as source
	details, err = f.FetchDetails(context.Background(), "AFI")
	require.NoError(t, err)
	assert.Equal(t, "AUSTRALIAN FOUNDATION INVESTMENT COMPANY", details.Name)
	assert.Equal(t, f.DetailsURL("AFI"), details.SourceURL)
	assert.Equal(t, domain.SectorLIC, details.Sector)

	_, err = f.FetchDetails(context.Background(), "XXX")
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))
}

func TestClassifySector(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", domain.SectorLIC},
		{"-", domain.SectorLIC},
		{"Listed Investment Companies", domain.SectorLIC},
		{"Investment Trusts", domain.SectorLIC},
		{"Materials", "Materials"},
		{"  Health   Care ", "Health Care"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, classifySector(tt.in))
		})
	}
}

func TestParseCount(t *testing.T) {
	n, err := parseCount(" 12,000 ")
	require.NoError(t, err)
	assert.Equal(t, int64(12000), n)

	_, err = parseCount("1.5m")
	assert.Error(t, err)
}
