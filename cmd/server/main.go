package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/simaogato/lictracker-backend/internal/adapter/alphavantage"
	"github.com/simaogato/lictracker-backend/internal/adapter/asx"
	grpcadapter "github.com/simaogato/lictracker-backend/internal/adapter/grpc"
	httpadapter "github.com/simaogato/lictracker-backend/internal/adapter/http"
	"github.com/simaogato/lictracker-backend/internal/adapter/repository/memory"
	"github.com/simaogato/lictracker-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/lictracker-backend/internal/config"
	"github.com/simaogato/lictracker-backend/internal/domain"
	"github.com/simaogato/lictracker-backend/internal/scheduler"
	"github.com/simaogato/lictracker-backend/internal/usecase/refresh"
	"github.com/simaogato/lictracker-backend/internal/usecase/seeder"
	"github.com/simaogato/lictracker-backend/internal/usecase/tracking"
	"github.com/simaogato/lictracker-backend/internal/usecase/valuation"
	"github.com/simaogato/lictracker-backend/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 2. Storage
	instrumentRepo, marketRepo, closeStore, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("storage", cfg.Storage).Msg("Failed to open storage")
	}
	defer closeStore()

	clock := domain.SystemClock{}
	if err := seeder.NewMarketSeeder(marketRepo, clock).Seed(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed markets")
	}

	// 3. External data sources
	prices := alphavantage.NewClient(alphavantage.Config{
		BaseURL:           cfg.AlphaVantageBaseURL,
		APIKey:            cfg.AlphaVantageAPIKey,
		RequestsPerSecond: cfg.AlphaVantageRPS,
		Timeout:           cfg.FetchTimeout,
	}, log)
	fundamentals := asx.NewFetcher(asx.Config{
		BaseURL:           cfg.ASXBaseURL,
		RequestsPerSecond: cfg.ASXRPS,
		Timeout:           cfg.FetchTimeout,
	}, log)

	// 4. Services (Use Cases)
	registry := tracking.NewRegistry()
	trackingService := tracking.NewTrackingService(registry, instrumentRepo, marketRepo, prices, fundamentals, clock, cfg.FetchTimeout, log)
	refreshService := refresh.NewRefreshService(registry, instrumentRepo, prices, clock, refresh.Config{
		FetchTimeout:          cfg.FetchTimeout,
		Concurrency:           cfg.RefreshConcurrency,
		RefreshOutsideSession: cfg.RefreshOutsideSession,
	}, log)
	valuationService := valuation.NewValuationService(instrumentRepo, marketRepo, refreshService)

	if err := trackingService.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore tracked instruments")
	}
	trackConfigured(ctx, trackingService, cfg.Tracked, log)

	// 5. Scheduler
	sched := scheduler.New(log)
	refreshJob := scheduler.NewRefreshJob(ctx, refreshService, marketRepo, 0, log)
	if err := sched.AddJob(cfg.RefreshSchedule, refreshJob); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.RefreshSchedule).Msg("Failed to register refresh job")
	}
	sched.Start()

	// 6. gRPC server
	grpcServer := grpclib.NewServer(grpclib.ChainUnaryInterceptor(
		grpcadapter.RecoveryInterceptor(log),
		grpcadapter.LoggingInterceptor(log),
	))
	grpcadapter.RegisterValuationServiceServer(grpcServer, grpcadapter.NewServer(valuationService))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpcadapter.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcAddr := fmt.Sprintf(":%d", cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", grpcAddr).Msg("Failed to listen")
	}
	go func() {
		log.Info().Str("addr", grpcAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server stopped with error")
			stop()
		}
	}()

	// 7. HTTP server
	httpServer := httpadapter.New(httpadapter.Config{
		Port:      cfg.HTTPPort,
		Log:       log,
		Tracking:  trackingService,
		Valuation: valuationService,
	})
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped with error")
			stop()
		}
	}()

	// first cycle without waiting for the schedule
	go func() {
		if err := sched.RunNow(refreshJob); err != nil {
			log.Warn().Err(err).Msg("Initial refresh failed")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()
	sched.Stop()
	log.Info().Msg("Server stopped")
}

// openStorage returns the repositories for the configured backend
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (domain.InstrumentRepository, domain.MarketRepository, func(), error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn().Msg("Using in-memory storage, state is lost on restart")
		store := memory.NewStore()
		return memory.NewInstrumentRepository(store), memory.NewMarketRepository(store), func() {}, nil
	}

	db, err := connectWithRetry(ctx, cfg.DBConnStr, 5, 2*time.Second, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	log.Info().Msg("Database migrations applied")

	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
	return postgres.NewInstrumentRepository(db), postgres.NewMarketRepository(db), closeDB, nil
}

// connectWithRetry waits for Postgres to accept connections
func connectWithRetry(ctx context.Context, connStr string, attempts int, delay time.Duration, log zerolog.Logger) (*postgres.DB, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := postgres.NewDB(connStr)
		if err == nil {
			return db, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i).Msg("Database not ready")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// trackConfigured tracks the TRACKED instruments. Failures are logged and
// retried on the next start.
func trackConfigured(ctx context.Context, svc *tracking.TrackingService, tracked []config.TrackedInstrument, log zerolog.Logger) {
	for _, t := range tracked {
		rec, err := svc.Track(ctx, t.Ticker, t.Market, t.Kind)
		if err != nil {
			log.Warn().Err(err).Str("ticker", t.Ticker).Str("market", t.Market).Msg("Failed to track configured instrument")
			continue
		}
		log.Debug().Str("ticker", rec.Ticker).Str("kind", string(rec.Kind)).Msg("Configured instrument ready")
	}
}
