package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/scrap-pickup/internal/notification/application"
	notifyhttp "github.com/dmehra2102/scrap-pickup/internal/notification/infrastructure/http"
	notifykafka "github.com/dmehra2102/scrap-pickup/internal/notification/infrastructure/kafka"
	"github.com/dmehra2102/scrap-pickup/internal/notification/infrastructure/memory"
	notifypg "github.com/dmehra2102/scrap-pickup/internal/notification/infrastructure/postgres"
	platformpg "github.com/dmehra2102/scrap-pickup/internal/platform/postgres"
	"github.com/dmehra2102/scrap-pickup/pkg/auth"
	"github.com/dmehra2102/scrap-pickup/pkg/config"
	"github.com/dmehra2102/scrap-pickup/pkg/idempotency"
	"github.com/dmehra2102/scrap-pickup/pkg/logging"
	"github.com/dmehra2102/scrap-pickup/pkg/shutdown"
	"github.com/dmehra2102/scrap-pickup/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "notification-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}

	var repo application.Repository
	if cfg.StoreDriver == config.DriverMemory {
		repo = memory.NewStore()
	} else {
		pool, err := platformpg.Connect(ctx, cfg.PGURL, cfg.PGMaxConns)
		if err != nil {
			log.Error("pg connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := platformpg.Migrate(ctx, pool); err != nil {
			log.Error("pg migrate failed", "err", err)
			os.Exit(1)
		}
		repo = notifypg.NewRepository(log, pool)
	}

	redisDB := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisDB.Close()
	idem := idempotency.NewStore(redisDB, cfg.IdempotencyTTL)

	svc := application.NewService(log, repo)
	reader := notifykafka.NewReader([]string{cfg.KafkaAddr}, cfg.OutboxTopic, cfg.NotifyGroup)
	consumer := notifykafka.NewConsumer(log, reader, svc, idem)

	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(log, auth.NewVerifier(cfg.JWTSecret)))
		notifyhttp.NewHandler(log, svc).Routes(r)
	})
	srv := &http.Server{
		Addr:         cfg.NotifyHTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http listening", "addr", cfg.NotifyHTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	if err := shutdown.Drain(10*time.Second, srv.Shutdown, tp.Shutdown); err != nil {
		log.Warn("shutdown incomplete", "err", err)
	}
	log.Info("notification-service shutdown complete")
}
