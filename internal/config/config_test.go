package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"STORAGE", "DB_CONN_STR", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
		"ALPHAVANTAGE_API_KEY", "ALPHAVANTAGE_BASE_URL", "ALPHAVANTAGE_RPS", "ASX_BASE_URL", "ASX_RPS",
		"FETCH_TIMEOUT", "REFRESH_SCHEDULE", "REFRESH_CONCURRENCY", "REFRESH_OUTSIDE_SESSION",
		"GRPC_PORT", "HTTP_PORT", "LOG_LEVEL", "LOG_PRETTY", "TRACKED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALPHAVANTAGE_API_KEY", "demo")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=lictracker sslmode=disable", cfg.DBConnStr)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "0 */5 * * * *", cfg.RefreshSchedule)
	assert.Equal(t, 4, cfg.RefreshConcurrency)
	assert.False(t, cfg.RefreshOutsideSession)
	assert.Equal(t, 8080, cfg.GRPCPort)
	assert.Equal(t, 8081, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Tracked)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALPHAVANTAGE_API_KEY", "demo")
	t.Setenv("STORAGE", "Memory")
	t.Setenv("DB_CONN_STR", "postgres://x")
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("REFRESH_CONCURRENCY", "8")
	t.Setenv("REFRESH_OUTSIDE_SESSION", "true")
	t.Setenv("ALPHAVANTAGE_RPS", "0.5")
	t.Setenv("TRACKED", "WLE:ASX, LIC:asx:portfolio")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "postgres://x", cfg.DBConnStr)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 8, cfg.RefreshConcurrency)
	assert.True(t, cfg.RefreshOutsideSession)
	assert.Equal(t, 0.5, cfg.AlphaVantageRPS)
	assert.Len(t, cfg.Tracked, 2)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALPHAVANTAGE_API_KEY", "demo")
	t.Setenv("FETCH_TIMEOUT", "soon")
	t.Setenv("GRPC_PORT", "eighty")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 8080, cfg.GRPCPort)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"Missing API key", map[string]string{}},
		{"Unknown storage", map[string]string{"ALPHAVANTAGE_API_KEY": "demo", "STORAGE": "redis"}},
		{"Same ports", map[string]string{"ALPHAVANTAGE_API_KEY": "demo", "HTTP_PORT": "8080"}},
		{"Zero concurrency", map[string]string{"ALPHAVANTAGE_API_KEY": "demo", "REFRESH_CONCURRENCY": "0"}},
		{"Bad tracked", map[string]string{"ALPHAVANTAGE_API_KEY": "demo", "TRACKED": "WLE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()

			assert.Error(t, err)
		})
	}
}

func TestParseTracked(t *testing.T) {
	got, err := ParseTracked(" wle:asx ,,AFI:ASX:stock, LIC:ASX:PORTFOLIO ")

	require.NoError(t, err)
	assert.Equal(t, []TrackedInstrument{
		{Ticker: "WLE", Market: "ASX", Kind: domain.KindStock},
		{Ticker: "AFI", Market: "ASX", Kind: domain.KindStock},
		{Ticker: "LIC", Market: "ASX", Kind: domain.KindPortfolio},
	}, got)
}

func TestParseTracked_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Missing market", "WLE"},
		{"Too many parts", "WLE:ASX:stock:x"},
		{"Empty ticker", ":ASX"},
		{"Unknown kind", "WLE:ASX:bond"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTracked(tt.raw)
			assert.Error(t, err)
		})
	}

	_, err := ParseTracked("WLE:ASX:bond")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestParseTracked_Empty(t *testing.T) {
	got, err := ParseTracked("")

	require.NoError(t, err)
	assert.Nil(t, got)
}
