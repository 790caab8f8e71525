// Command session-relay publishes recorded browser session events from the
// outbox table to a Redis stream.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/browserenv/internal/database"
	"github.com/maltedev/browserenv/internal/envconfig"
	"github.com/maltedev/browserenv/pkg/logger"
)

func main() {
	log := logger.New(os.Getenv("LOG_LEVEL"), "json")
	slog.SetDefault(log)

	env, err := envconfig.Environ().WithDotEnv(".env")
	if err != nil {
		log.Error("failed to read .env", "error", err)
		os.Exit(1)
	}

	cfg, err := envconfig.LoadReporting(env)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Enabled() {
		log.Error("E2E_DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.New(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: 4,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, log, database.RelayConfig{
		PollInterval: cfg.RelayInterval,
		BatchSize:    cfg.RelayBatch,
	})

	if cfg.HealthAddr != "" {
		server := &http.Server{
			Addr:         cfg.HealthAddr,
			Handler:      newHealthRouter(relay, log),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("health server starting", "addr", cfg.HealthAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("health server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("health server shutdown failed", "error", err)
			}
		}()
	}

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}

	// Publish whatever is left before exiting.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if n, err := relay.Drain(drainCtx); err != nil {
		log.Error("failed to drain outbox", "error", err)
	} else if n > 0 {
		log.Info("drained outbox", "events", n)
	}
}
