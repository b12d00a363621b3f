// cmd/api is the booking engine's HTTP process. It wires together all
// layers, starts the hold-expiry sweeper, and serves until shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stayhaven/booking-engine/internal/config"
	"github.com/stayhaven/booking-engine/internal/database"
	"github.com/stayhaven/booking-engine/internal/directory"
	"github.com/stayhaven/booking-engine/internal/gateway"
	"github.com/stayhaven/booking-engine/internal/handler"
	"github.com/stayhaven/booking-engine/internal/notify"
	"github.com/stayhaven/booking-engine/internal/repository"
	"github.com/stayhaven/booking-engine/internal/service"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Infrastructure ────────────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema: %v", err)
	}
	log.Info("connected to PostgreSQL")

	publisher, err := notify.NewPublisher(cfg.AMQPURL, cfg.EventExchange)
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer publisher.Close()
	log.Info("connected to RabbitMQ")

	gw, err := gateway.NewOmiseGateway(gateway.OmiseConfig{
		PublicKey:     cfg.OmisePublicKey,
		SecretKey:     cfg.OmiseSecretKey,
		WebhookSecret: cfg.WebhookSecret,
		SourceType:    cfg.SourceType,
		ReturnURI:     cfg.ReturnURI,
		Timeout:       cfg.GatewayTimeout,
	})
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	repo := repository.NewBookingRepository(pool, log)
	props := directory.NewPropertyClient(cfg.ListingServiceURL, cfg.DirectoryTimeout)
	ids := directory.NewIdentityClient(cfg.IdentityServiceURL, cfg.DirectoryTimeout)

	engine := service.NewReconciliationEngine(repo, gw, publisher, log, service.EngineConfig{
		HoldTTL:                 cfg.HoldTTL,
		ConfirmOnPartialPayment: cfg.ConfirmOnPartialPayment,
		TrustUnverifiedWebhooks: cfg.TrustUnverifiedWebhooks,
	})
	svc := service.NewBookingService(repo, props, ids, engine, publisher, log, service.BookingConfig{
		HostTakeRate: cfg.HostTakeRate,
	})
	bookingHandler := handler.NewBookingHandler(svc, engine, log)

	// ── 3. Background sweeper ────────────────────────────────────────────
	sweeper := service.NewSweeper(engine, repo, log, cfg.SweepInterval, cfg.SweepBatch)
	go sweeper.Run(ctx)

	// ── 4. Router ────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger(log))
	r.Use(handler.CORS)

	r.Get("/health", handler.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	bookingHandler.Routes(r)

	// ── 5. Serve with graceful shutdown ──────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
