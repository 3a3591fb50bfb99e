package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wayfarerhq/wayfarer-backend/api/routes"
	"github.com/wayfarerhq/wayfarer-backend/internal/billing"
	"github.com/wayfarerhq/wayfarer-backend/internal/notifications"
	"github.com/wayfarerhq/wayfarer-backend/internal/subscriptions"
	stripewebhook "github.com/wayfarerhq/wayfarer-backend/internal/webhooks/stripe"
	"github.com/wayfarerhq/wayfarer-backend/pkg/config"
	"github.com/wayfarerhq/wayfarer-backend/pkg/db"
	"github.com/wayfarerhq/wayfarer-backend/pkg/logger"
	"github.com/wayfarerhq/wayfarer-backend/pkg/metrics"
	"github.com/wayfarerhq/wayfarer-backend/pkg/migrate"
	"github.com/wayfarerhq/wayfarer-backend/pkg/pubsub"
	"github.com/wayfarerhq/wayfarer-backend/pkg/redis"
	"github.com/wayfarerhq/wayfarer-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	var noticePublisher notifications.Publisher
	if cfg.GCP.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		noticePublisher = notifications.NewPubSubPublisher(pubsubClient.NotificationPublisher())
	}

	billingRepo := billing.NewRepository(dbClient.DB())

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()), noticePublisher, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	processor := subscriptions.NewProcessorClient(stripeClient)

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		BillingRepo:       billingRepo,
		Processor:         processor,
		TransactionRunner: dbClient,
		Logger:            logg,
		Notifier:          notificationsService,
		ProcessorTimeout:  cfg.Stripe.CallTimeout,
		DefaultSuccessURL: cfg.Stripe.CheckoutSuccessURL,
		DefaultCancelURL:  cfg.Stripe.CheckoutCancelURL,
		DefaultPortalURL:  cfg.Stripe.PortalReturnURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		Processor:         processor,
		TransactionRunner: dbClient,
		Notifier:          notificationsService,
		Logger:            logg,
		BoundarySlack:     cfg.Billing.DowngradeBoundarySlack,
		ProcessorTimeout:  cfg.Stripe.CallTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Billing.WebhookIdempotencyTTL, stripewebhook.DefaultScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	metricsRegistry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(metricsRegistry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:               cfg,
			Logger:               logg,
			DB:                   dbClient,
			Redis:                redisClient,
			StripeClient:         stripeClient,
			SubscriptionsService: subscriptionsService,
			NotificationsService: notificationsService,
			PlanCatalog:          billingRepo,
			WebhookService:       webhookService,
			WebhookGuard:         webhookGuard,
			WebhookMetrics:       webhookMetrics,
			MetricsRegistry:      metricsRegistry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
