package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agora/internal/admission"
	"github.com/eldtechnologies/agora/internal/api"
	"github.com/eldtechnologies/agora/internal/api/middleware"
	"github.com/eldtechnologies/agora/internal/config"
	"github.com/eldtechnologies/agora/internal/handlers"
	"github.com/eldtechnologies/agora/internal/room"
	"github.com/eldtechnologies/agora/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Identity registry: PostgreSQL when configured, SQLite otherwise
	var identities store.IdentityStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		identities = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		identities = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite identity store")
	}
	defer identities.Close()

	// Message log, sessions and turn lock: Redis when configured, memory otherwise
	var (
		live        store.LiveStore
		turns       room.TurnLock
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		live = redisStore
		redisClient = redisStore.Client()
		turns = room.NewRedisTurnLock(redisClient, cfg.TurnTTL)
		logger.Info().Msg("connected to Redis")
	} else {
		live = store.NewMemoryStore()
		turns = room.NewMemoryTurnLock(cfg.TurnTTL, nil)
		logger.Warn().Msg("no REDIS_URL, message log is in memory only")
	}
	defer live.Close()

	ctrl, err := admission.NewController(admission.ControllerOpts{
		Limits: cfg.Admission,
		Logger: logger.With().Str("component", "admission").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("admission controller")
	}

	// Seed idleness from the surviving log so a restart does not read as silence.
	tracker := room.NewTracker(cfg.IdleAfter, nil)
	if err := tracker.Refresh(ctx, live); err != nil {
		logger.Warn().Err(err).Msg("could not seed room activity from the message log")
	}

	reaper, err := room.NewReaper(room.ReaperOpts{
		Store:       identities,
		IdleTimeout: cfg.IdentityIdleTimeout,
		Schedule:    cfg.ReapSchedule,
		OnRemove:    ctrl.Forget,
		Logger:      logger.With().Str("component", "reaper").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("reaper")
	}
	reaper.Start()
	defer reaper.Stop()

	// Create router
	router := api.NewRouter(api.RouterOpts{
		Handlers: handlers.Options{
			Identities: identities,
			Live:       live,
			Admission:  ctrl,
			Activity:   tracker,
			Turns:      turns,
			SessionTTL: cfg.SessionTTL,
		},
		Redis: redisClient,
		JoinGuard: middleware.JoinGuardConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
			JoinsPerHour:     cfg.JoinsPerHour,
		},
		Logger: logger,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting agora server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
