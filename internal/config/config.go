// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Storage   string
	DBConnStr string

	AlphaVantageAPIKey  string
	AlphaVantageBaseURL string
	AlphaVantageRPS     float64
	ASXBaseURL          string
	ASXRPS              float64

	FetchTimeout          time.Duration
	RefreshSchedule       string
	RefreshConcurrency    int
	RefreshOutsideSession bool

	GRPCPort int
	HTTPPort int

	LogLevel  string
	LogPretty bool

	Tracked []TrackedInstrument
}

// TrackedInstrument is one startup tracking request
type TrackedInstrument struct {
	Ticker string
	Market string
	Kind   domain.Kind
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	tracked, err := ParseTracked(getEnv("TRACKED", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Storage:               strings.ToLower(getEnv("STORAGE", StoragePostgres)),
		DBConnStr:             dbConnStr(),
		AlphaVantageAPIKey:    getEnv("ALPHAVANTAGE_API_KEY", ""),
		AlphaVantageBaseURL:   getEnv("ALPHAVANTAGE_BASE_URL", "https://www.alphavantage.co/query"),
		AlphaVantageRPS:       getEnvAsFloat("ALPHAVANTAGE_RPS", 1),
		ASXBaseURL:            getEnv("ASX_BASE_URL", "https://www.asx.com.au/asx"),
		ASXRPS:                getEnvAsFloat("ASX_RPS", 2),
		FetchTimeout:          getEnvAsDuration("FETCH_TIMEOUT", 10*time.Second),
		RefreshSchedule:       getEnv("REFRESH_SCHEDULE", "0 */5 * * * *"),
		RefreshConcurrency:    getEnvAsInt("REFRESH_CONCURRENCY", 4),
		RefreshOutsideSession: getEnvAsBool("REFRESH_OUTSIDE_SESSION", false),
		GRPCPort:              getEnvAsInt("GRPC_PORT", 8080),
		HTTPPort:              getEnvAsInt("HTTP_PORT", 8081),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogPretty:             getEnvAsBool("LOG_PRETTY", false),
		Tracked:               tracked,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DBConnStr == "" {
			return fmt.Errorf("DB_CONN_STR is required for postgres storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}

	if c.AlphaVantageAPIKey == "" {
		return fmt.Errorf("ALPHAVANTAGE_API_KEY is required")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.RefreshConcurrency <= 0 {
		return fmt.Errorf("REFRESH_CONCURRENCY must be positive")
	}
	if c.AlphaVantageRPS <= 0 || c.ASXRPS <= 0 {
		return fmt.Errorf("ALPHAVANTAGE_RPS and ASX_RPS must be positive")
	}
	if c.GRPCPort == c.HTTPPort {
		return fmt.Errorf("GRPC_PORT and HTTP_PORT must differ")
	}

	return nil
}

// ParseTracked parses a comma-separated TICKER:MARKET[:portfolio] list
func ParseTracked(raw string) ([]TrackedInstrument, error) {
	var out []TrackedInstrument
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("TRACKED entry %q: want TICKER:MARKET[:KIND]", item)
		}

		t := TrackedInstrument{
			Ticker: strings.ToUpper(strings.TrimSpace(parts[0])),
			Market: strings.ToUpper(strings.TrimSpace(parts[1])),
			Kind:   domain.KindStock,
		}
		if t.Ticker == "" || t.Market == "" {
			return nil, fmt.Errorf("TRACKED entry %q: empty ticker or market", item)
		}
		if len(parts) == 3 {
			kind, err := domain.ParseKind(parts[2])
			if err != nil {
				return nil, fmt.Errorf("TRACKED entry %q: %w", item, err)
			}
			t.Kind = kind
		}
		out = append(out, t)
	}
	return out, nil
}

// dbConnStr returns DB_CONN_STR or builds it from the individual DB_* vars
func dbConnStr() string {
	if s := os.Getenv("DB_CONN_STR"); s != "" {
		return s
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "lictracker"),
	)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
