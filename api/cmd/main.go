package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provely/provely/internal/config"
	"github.com/provely/provely/internal/domain"
	"github.com/provely/provely/internal/infrastructure/memory"
	"github.com/provely/provely/internal/infrastructure/postgres"
	"github.com/provely/provely/internal/infrastructure/redis"
	"github.com/provely/provely/internal/pkg/logger"
	"github.com/provely/provely/internal/service"
	"github.com/provely/provely/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "selection-service").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	repo := postgres.New(dbPool)

	// ---- Rate counter ----
	// Redis when configured, in-process fallback otherwise. Both fail open,
	// so a counter outage never takes the analytics endpoint down.
	var counter domain.RateCounter
	if cfg.RedisAddr != "" {
		rc := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		if err := rc.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
		cancel()
		counter = rc
	} else {
		counter = memory.NewCounter()
		log.Info().Msg("using in-process rate counter")
	}

	// ---- Application service ----
	svc := service.New(repo, counter, service.Options{
		DefaultLimit: cfg.SelectionDefaultLimit,
		MaxLimit:     cfg.SelectionMaxLimit,
		RLEnabled:    cfg.RLEnabled,
		RLLimit:      cfg.RLLimit,
		RLWindow:     cfg.RLWindow,
	})
	h := rest.NewHandler(svc, cfg.SelectionMaxAge)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{Handler: h})

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server crash
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
