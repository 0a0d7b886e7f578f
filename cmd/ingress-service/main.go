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
	"github.com/relialab/docpipe/internal/config"
	"github.com/relialab/docpipe/internal/health"
	"github.com/relialab/docpipe/internal/ingress"
	"github.com/relialab/docpipe/internal/messaging/rabbitmq"
	"github.com/relialab/docpipe/internal/outbox"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

const serviceName = "ingress-service"

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
		Str("service", serviceName).
		Str("env", cfg.AppEnv).
		Logger()

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

	repo := ingress.NewRepository(dbPool)
	if err := repo.EnsureSchema(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("documents schema bootstrap failed")
	}
	if err := outbox.EnsureSchema(rootCtx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("outbox schema bootstrap failed")
	}

	// ---- Broker publisher + outbox worker ----
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq publisher init failed")
	}
	defer pub.Close()

	if cfg.OutboxEnabled {
		store := outbox.NewStore(dbPool, serviceName, cfg.OutboxMaxRetries, cfg.OutboxInitDelay, cfg.OutboxMaxDelay)
		worker := outbox.NewWorker(store, pub, serviceName, cfg.OutboxPoll, cfg.OutboxBatchSize)
		go worker.Run(rootCtx)
		log.Info().Msg("outbox worker started")
	}

	// ---- HTTP ----
	svc := ingress.NewService(repo)
	h := ingress.NewHandler(svc)
	healthH := health.NewHandler(dbPool, pub.Conn())
	router := ingress.NewRouter(h, healthH)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
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

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
