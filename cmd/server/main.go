package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Wire Stores ───────────────────────────────────────────────────
	var (
		deps *dependencies
		err  error
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		deps = wireMemory(log)
	case config.StoreDriverPostgres:
		deps, err = wirePostgres(ctx, cfg, log)
	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("Unknown STORE_DRIVER")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize stores")
	}
	defer deps.close()

	// ─── Initialize Services ──────────────────────────────────────────
	orch := service.NewOrchestrator(deps.stores, log,
		service.WithViolationDebounce(cfg.ViolationDebounce),
		service.WithAnalyticsLocation(cfg.AnalyticsLocation),
	)
	verifier := service.NewTokenVerifier(cfg.JWTSecret)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(orch),
		WS: handler.NewWSHandler(orch, deps.subscriber, log, handler.WSOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			SnapshotEvery:  cfg.TimerSnapshotEvery,
		}),
		Analytics: handler.NewAnalyticsHandler(orch),
		Monitor:   handler.NewMonitorHandler(orch, deps.subscriber, log),
		Health:    handler.NewHealthHandler(deps.checks),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers errgroup.Group

	sweeper := worker.NewExpirySweeper(orch, cfg.SweepInterval, cfg.SweepGrace, cfg.SweepBatch, log)
	starters := append(deps.workers, sweeper.Start)
	for _, start := range starters {
		workers.Go(func() error {
			start(workerCtx)
			return nil
		})
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(verifier, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for their buffers to flush.
	workerCancel()
	_ = workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
