package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dmehra2102/scrap-pickup/internal/order/application"
	ordergrpc "github.com/dmehra2102/scrap-pickup/internal/order/infrastructure/grpc"
	orderhttp "github.com/dmehra2102/scrap-pickup/internal/order/infrastructure/http"
	orderkafka "github.com/dmehra2102/scrap-pickup/internal/order/infrastructure/kafka"
	"github.com/dmehra2102/scrap-pickup/internal/order/infrastructure/mapbox"
	"github.com/dmehra2102/scrap-pickup/internal/order/infrastructure/memory"
	orderpg "github.com/dmehra2102/scrap-pickup/internal/order/infrastructure/postgres"
	paymentapp "github.com/dmehra2102/scrap-pickup/internal/payment/application"
	paymenthttp "github.com/dmehra2102/scrap-pickup/internal/payment/infrastructure/http"
	paymentpg "github.com/dmehra2102/scrap-pickup/internal/payment/infrastructure/postgres"
	platformpg "github.com/dmehra2102/scrap-pickup/internal/platform/postgres"
	"github.com/dmehra2102/scrap-pickup/pkg/auth"
	"github.com/dmehra2102/scrap-pickup/pkg/config"
	"github.com/dmehra2102/scrap-pickup/pkg/logging"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
	"github.com/dmehra2102/scrap-pickup/pkg/shutdown"
	"github.com/dmehra2102/scrap-pickup/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}

	// Storage
	var (
		orders      application.OrderRepository
		settlements paymentapp.SettlementRepository
		outboxStore outbox.Store
		pinger      ordergrpc.Pinger
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memory.NewStore()
		orders, settlements, outboxStore, pinger = mem, mem.Settlements(), mem, mem
		log.Warn("using in-memory store; data is lost on restart")
	default:
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
		orders = orderpg.NewRepository(log, pool)
		settlements = paymentpg.NewRepository(log, pool)
		outboxStore = orderpg.NewOutboxStore(log, pool)
		pinger = pool
	}

	// Order service, optionally enriched by Mapbox
	opts := []application.Option{
		application.WithNearbyLimits(application.NearbyLimits(cfg.Nearby)),
		application.WithEnrichTimeout(cfg.EnrichTimeout),
	}
	if cfg.MapboxToken != "" {
		mb := mapbox.NewClient(log, cfg.MapboxToken, cfg.MapboxBaseURL, cfg.EnrichTimeout)
		opts = append(opts, application.WithTravelEstimator(mb), application.WithGeocoder(mb))
	} else {
		log.Warn("MAPBOX_TOKEN not set; travel enrichment and geocoding disabled")
	}
	orderSvc := application.NewService(log, orders, opts...)
	paymentSvc := paymentapp.NewService(log, settlements)

	// Kafka producer + outbox relay
	writer := orderkafka.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()
	if err := orderkafka.EnsureTopic(ctx, cfg.KafkaAddr, cfg.OutboxTopic, 3); err != nil {
		log.Warn("ensure topic failed; relying on auto-create", "topic", cfg.OutboxTopic, "err", err)
	}
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "order-service-relay")

	// HTTP server
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(log, auth.NewVerifier(cfg.JWTSecret)))
		orderhttp.NewHandler(log, orderSvc).Routes(r)
		paymenthttp.NewHandler(log, paymentSvc).Routes(r)
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      otelhttp.NewHandler(r, "order-service"),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// gRPC health
	hs := ordergrpc.NewHealthServer(log, pinger, 5*time.Second)
	gs, err := ordergrpc.Run(cfg.GRPCAddr, hs)
	if err != nil {
		log.Error("grpc listen failed", "err", err)
		os.Exit(1)
	}
	go hs.Watch(ctx)

	// Run relay
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	// Run HTTP
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	err = shutdown.Drain(10*time.Second,
		srv.Shutdown,
		func(context.Context) error { gs.GracefulStop(); return nil },
		tp.Shutdown,
	)
	if err != nil {
		log.Warn("shutdown incomplete", "err", err)
	}
	log.Info("order-service shutdown complete")
}
