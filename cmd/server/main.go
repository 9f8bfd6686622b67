package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/config"
	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/database"
	"github.com/stemsi/kontrol-backend/internal/handler"
	"github.com/stemsi/kontrol-backend/internal/hub"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/logger"
	"github.com/stemsi/kontrol-backend/internal/middleware"
	"github.com/stemsi/kontrol-backend/internal/remote"
	"github.com/stemsi/kontrol-backend/internal/reset"
	"github.com/stemsi/kontrol-backend/internal/router"
	"github.com/stemsi/kontrol-backend/internal/service"
	"github.com/stemsi/kontrol-backend/internal/store"
	"github.com/stemsi/kontrol-backend/internal/validator"
	"github.com/stemsi/kontrol-backend/internal/variant"
	"github.com/stemsi/kontrol-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreBackend).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Kontrol Backend")

	// ─── Initialize Catalogs ───────────────────────────────────────────
	if err := i18n.Init(cfg.Lang); err != nil {
		log.Fatal().Err(err).Msg("Failed to load message catalogs")
	}
	validator.Setup(cfg.Lang)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	var pool *pgxpool.Pool
	if cfg.NeedsPostgres() {
		p, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer p.Close()
		pool = p
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		c, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer c.Close()
		rdb = c
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})

	// ─── Attempt Store ─────────────────────────────────────────────────
	var attempts store.Store
	switch cfg.StoreBackend {
	case config.StoreMemory:
		attempts = store.NewMemoryStore()
	case config.StoreRedis:
		// Hot records live as long as the device token that can reach them.
		attempts = store.NewRedisStore(rdb, cfg.JWTExpiry)
	case config.StorePostgres:
		attempts = store.NewPostgresStore(pool)
	case config.StoreTiered:
		hot := store.NewRedisStore(rdb, cfg.JWTExpiry)
		cold := store.NewPostgresStore(pool)
		attempts = store.NewTieredStore(hot, cold, hot, log)

		persistWorker := worker.NewAttemptPersistWorker(rdb, cold, log)
		go func() {
			defer close(workersDone)
			persistWorker.Start(workerCtx)
		}()
	}
	if cfg.StoreBackend != config.StoreTiered {
		close(workersDone)
	}

	// ─── Variants ──────────────────────────────────────────────────────
	var loader variant.Loader = variant.NewDirLoader(cfg.VariantsDir)
	if rdb != nil {
		loader = variant.NewCachedLoader(loader, rdb, cfg.VariantCacheTTL, log)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	remoteClient := remote.New(cfg.RemoteBaseURL, cfg.RemoteToken, cfg.RemoteTimeout, log)
	if !remoteClient.Configured() {
		log.Warn().Msg("REMOTE_BASE_URL is empty: submit, reset codes and the console are disabled")
	}
	resetWorkflow := reset.NewWorkflow(remoteClient, log)
	events := hub.New(log)

	authService := service.NewAuthService(cfg, rdb)
	attemptService := service.NewAttemptService(service.AttemptServiceOptions{
		Loader:   loader,
		Store:    attempts,
		Remote:   remoteClient,
		Reset:    resetWorkflow,
		Notifier: events,
		Streams:  events,
		Tick:     cfg.TimerTick,
		Idle:     cfg.AttemptIdle,
		Log:      log,
	})
	defer attemptService.Close()
	go attemptService.StartJanitor(workerCtx)

	aggregator := console.NewAggregator(remoteClient, resetWorkflow, loader, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Device:  handler.NewDeviceHandler(authService, attemptService),
		Attempt: handler.NewAttemptHandler(attemptService),
		Console: handler.NewConsoleHandler(aggregator, handler.ConsoleOptions{
			PrintFontPath: cfg.PrintFontPath,
			Lang:          cfg.Lang,
		}, log),
		Status: handler.NewStatusHandler(rdb, attemptService, events, 0, log),
		WS:     handler.NewWSHandler(attemptService, events, log, cfg.AllowedOrigins),
	}

	limiters := router.Limiters{
		Devices: middleware.NewRateLimiter(20, time.Minute, middleware.ByClientIP),
		Reset:   middleware.NewRateLimiter(5, time.Minute, middleware.ByDevice),
	}
	defer limiters.Devices.Stop()
	defer limiters.Reset.Stop()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiters, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the persist queue to drain.
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Persist worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
