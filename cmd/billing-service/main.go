package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Dhoini/Billing-microservice/internal/app"
	"github.com/Dhoini/Billing-microservice/internal/config"
	billinggrpc "github.com/Dhoini/Billing-microservice/internal/grpc"
	"github.com/Dhoini/Billing-microservice/internal/http/routes"
	"github.com/Dhoini/Billing-microservice/internal/http/server"
	"github.com/Dhoini/Billing-microservice/internal/kafka"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/repository/postgres"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/internal/stripe"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	cfg, err := config.LoadConfig(*envPath)
	if err != nil {
		logger.New(logger.INFO).Fatal("Failed to load configuration: %v", err)
	}

	var log *logger.Logger
	if cfg.IsProduction() {
		log = logger.NewProduction(logger.ParseLevel(cfg.App.LogLevel))
		gin.SetMode(gin.ReleaseMode)
	} else {
		log = logger.New(logger.ParseLevel(cfg.App.LogLevel))
	}
	defer func() { _ = log.Sync() }()

	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatalw("Invalid plan catalog", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	billingMetrics := metrics.NewBillingMetrics(registry, log)

	// PostgreSQL
	pool, err := postgres.NewConnection(ctx, cfg.Database.DSN, postgres.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	}, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer pool.Close()

	if err := postgres.NewMigrator(pool, log).Migrate(ctx); err != nil {
		log.Fatalw("Failed to apply migrations", "error", err)
	}
	db := postgres.NewDB(pool)

	systemMetrics := metrics.NewSystemMetrics(registry, pool, log)
	systemMetrics.StartRecording(15 * time.Second)
	defer systemMetrics.Stop()

	companies := postgres.NewCompanyRepository(db, log)
	members := postgres.NewMemberRepository(db, log)
	locations := postgres.NewLocationRepository(db, log)
	counters := postgres.NewCounterRepository(db, log)
	subs := postgres.NewSubscriptionRepository(db, log)

	// Redis: кэш подписок и блокировка тенанта. Без Redis работаем на базе.
	var locker repository.TenantLocker = repository.NoopLocker{}
	redisClient, err := repository.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Warnw("Redis unavailable, running without cache and tenant lock", "error", err)
	} else {
		defer func() { _ = redisClient.Close() }()
		subs = repository.NewCachedSubscriptionRepository(subs, repository.NewRedisCache(redisClient, cfg.Redis.CacheTTL, log), log)
		locker = repository.NewRedisLocker(redisClient, cfg.Redis.LockTTL, 0, log)
	}

	// Kafka: события биллинга и приглашения
	var events service.EventPublisher = service.NopPublisher{}
	var sender service.InvitationSender
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := kafka.NewConfig(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.InvitationTopic, cfg.Kafka.Partitions)
		if err := kafka.EnsureTopics(ctx, kafkaCfg, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics", "error", err)
		}
		syncProducer, err := kafka.NewSyncProducer(kafkaCfg, log)
		if err != nil {
			log.Warnw("Kafka producer unavailable, events and invitation notifications are disabled", "error", err)
		} else {
			producer := kafka.NewBillingProducer(syncProducer, kafkaCfg, log)
			defer func() { _ = producer.Close() }()
			events = producer
			sender = producer
		}
	} else {
		log.Infow("Kafka brokers not configured, events and invitation notifications are disabled")
	}

	provider := stripe.NewStripeProvider(cfg.Stripe.APIKey, stripe.Options{MaxRetryElapsed: cfg.Stripe.MaxRetryElapsed}, log)

	reconciler := service.NewUsageReconciler(catalog, subs, provider, billingMetrics, events, log)
	notifier := service.NewInvitationNotifier(sender, billingMetrics, log)
	svc := app.Services{
		Members: service.NewMemberService(companies, members, reconciler, locker, notifier, service.MemberServiceConfig{
			InvitationTTL: cfg.Billing.InvitationTTL,
			BaseURL:       cfg.App.BaseURL,
		}, log),
		Locations: service.NewLocationService(companies, locations, reconciler, locker, log),
		Plans:     service.NewPlanService(catalog, companies, subs, provider, billingMetrics, events, cfg.App.BaseURL, log),
		Webhooks:  service.NewWebhookService(catalog, companies, subs, provider, billingMetrics, events, log),
		Counters:  service.NewCounterService(counters, billingMetrics, log),
	}

	if cfg.Billing.RecountOnStartup {
		if _, err := svc.Counters.Recalculate(ctx); err != nil {
			log.Errorw("Startup counter recalculation failed", "error", err)
		}
	}

	application, err := app.NewApp(cfg, svc, pool, registry, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}

	router := gin.New()
	routes.SetupRoutes(router, application, log)
	httpServer := server.NewServer(router, cfg.App.Port, log)

	grpcServer := billinggrpc.NewServer(pool, log)
	grpcServer.WatchHealth(10 * time.Second)

	errCh := make(chan error, 2)
	go func() { errCh <- httpServer.Start() }()
	go func() { errCh <- grpcServer.Start(cfg.GRPC.Port) }()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Errorw("Server stopped unexpectedly", "error", err)
		}
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	grpcServer.Stop()
	if err := httpServer.Shutdown(ctxShutdown); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("HTTP server forced to shutdown", "error", err)
	}

	log.Infow("Server stopped gracefully")
}
