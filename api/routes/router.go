package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wayfarerhq/wayfarer-backend/api/controllers"
	billingcontrollers "github.com/wayfarerhq/wayfarer-backend/api/controllers/billing"
	webhookcontrollers "github.com/wayfarerhq/wayfarer-backend/api/controllers/webhooks"
	"github.com/wayfarerhq/wayfarer-backend/api/middleware"
	"github.com/wayfarerhq/wayfarer-backend/internal/notifications"
	subscriptionsvc "github.com/wayfarerhq/wayfarer-backend/internal/subscriptions"
	stripewebhook "github.com/wayfarerhq/wayfarer-backend/internal/webhooks/stripe"
	"github.com/wayfarerhq/wayfarer-backend/pkg/config"
	"github.com/wayfarerhq/wayfarer-backend/pkg/db"
	"github.com/wayfarerhq/wayfarer-backend/pkg/logger"
	"github.com/wayfarerhq/wayfarer-backend/pkg/metrics"
	"github.com/wayfarerhq/wayfarer-backend/pkg/redis"
	"github.com/wayfarerhq/wayfarer-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config               *config.Config
	Logger               *logger.Logger
	DB                   *db.Client
	Redis                *redis.Client
	StripeClient         *stripe.Client
	SubscriptionsService subscriptionsvc.Service
	NotificationsService notifications.Service
	PlanCatalog          billingcontrollers.PlanCatalog
	WebhookService       *stripewebhook.Service
	WebhookGuard         *stripewebhook.IdempotencyGuard
	WebhookMetrics       *metrics.WebhookMetrics
	MetricsRegistry      *prometheus.Registry
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.DB, p.Redis, logg))
	})

	if p.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.WebhookService, p.StripeClient, p.WebhookGuard, p.WebhookMetrics, logg))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Get("/plans", billingcontrollers.ListPlans(p.PlanCatalog, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Route("/subscription", func(r chi.Router) {
				r.Get("/", billingcontrollers.Fetch(p.SubscriptionsService, logg))
				r.Post("/plan-change", billingcontrollers.PlanChange(p.SubscriptionsService, logg))
				r.Post("/cancel", billingcontrollers.Cancel(p.SubscriptionsService, logg))
				r.Post("/resume", billingcontrollers.Resume(p.SubscriptionsService, logg))
			})
			r.Post("/portal", billingcontrollers.Portal(p.SubscriptionsService, logg))
			r.Get("/invoices", billingcontrollers.Invoices(p.SubscriptionsService, logg))
			r.Post("/addons/{addonId}/checkout", billingcontrollers.AddonCheckout(p.SubscriptionsService, logg))
		})
	})

	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/", controllers.ListNotifications(p.NotificationsService, logg))
		r.Get("/unread-count", controllers.UnreadNotificationCount(p.NotificationsService, logg))
		r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.NotificationsService, logg))
		r.Post("/read-all", controllers.MarkAllNotificationsRead(p.NotificationsService, logg))
	})

	return r
}
