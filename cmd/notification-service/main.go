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
	"github.com/redis/go-redis/v9"
	"github.com/relialab/docpipe/internal/config"
	"github.com/relialab/docpipe/internal/health"
	"github.com/relialab/docpipe/internal/idempotency"
	"github.com/relialab/docpipe/internal/messaging/rabbitmq"
	"github.com/relialab/docpipe/internal/notification"
	"github.com/relialab/docpipe/internal/pkg/logger"
	"github.com/relialab/docpipe/internal/retry"
	"github.com/relialab/docpipe/internal/transport/rest"
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
		Str("service", notification.ServiceName).
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	ledger := idempotency.NewLedger(dbPool)
	if err := ledger.EnsureSchema(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("ledger schema bootstrap failed")
	}
	repo := notification.NewRepository(dbPool)
	if err := repo.EnsureSchema(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("notifications schema bootstrap failed")
	}

	// Redis is optional: without it the rate limiter fails open.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(rootCtx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, rate limiting disabled")
		} else {
			log.Info().Msg("redis connected")
		}
		cancel()
	}
	limiter := notification.NewRateLimiter(redisClient)

	// Notification never publishes; connection is kept for health checks only.
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, notification.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq connect failed")
	}
	defer pub.Close()

	handler := notification.NewHandler(ledger, repo, limiter)
	consumer := rabbitmq.NewConsumer(cfg.RabbitURL, notification.ServiceName, rabbitmq.NotificationQueue, handler, rabbitmq.ConsumerOptions{
		Prefetch: cfg.PrefetchCount,
		Workers:  cfg.WorkerPoolSize,
		Retry: &retry.Config{
			MaxAttempts:  cfg.ConsumerMaxAttempt,
			InitialDelay: cfg.ConsumerInitDelay,
			Multiplier:   cfg.ConsumerMultiplier,
			MaxDelay:     cfg.ConsumerMaxDelay,
		},
		Topology: rabbitmq.TopologyOptions{
			MessageTTL: cfg.QueueTTL,
			MaxLength:  cfg.QueueMaxLength,
		},
	})
	if err := consumer.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("consumer start failed")
	}

	healthH := health.NewHandler(dbPool, pub.Conn())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           rest.NewOpsRouter(healthH),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("ops server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("ops server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
