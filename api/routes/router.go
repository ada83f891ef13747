package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/localcommerce-settlement/api/controllers"
	webhookcontrollers "github.com/angelmondragon/localcommerce-settlement/api/controllers/webhooks"
	"github.com/angelmondragon/localcommerce-settlement/api/middleware"
	"github.com/angelmondragon/localcommerce-settlement/internal/notifications"
	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	"github.com/angelmondragon/localcommerce-settlement/pkg/idempotency"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
	pkgsquare "github.com/angelmondragon/localcommerce-settlement/pkg/square"
	pkgstripe "github.com/angelmondragon/localcommerce-settlement/pkg/stripe"
)

// Params carries everything the HTTP surface is mounted on. Nil services
// answer with an internal error. A webhook route is only mounted when its
// processor client and guard are set.
type Params struct {
	Config           *config.Config
	Logger           *logger.Logger
	Readiness        map[string]controllers.Pinger
	Gatherer         prometheus.Gatherer
	HTTPMetrics      *metrics.HTTPMetrics
	IdempotencyStore middleware.ResponseStore

	Payments       controllers.CheckoutStarter
	Reconciliation controllers.OrderReconciler
	Ledger         controllers.PointsVerifier
	Notifications  notifications.Service

	StripeClient         *pkgstripe.Client
	StripeWebhookService webhookcontrollers.StripeWebhookService
	StripeWebhookGuard   *idempotency.Guard

	SquareClient         *pkgsquare.Client
	SquareWebhookService webhookcontrollers.SquareWebhookService
	SquareWebhookGuard   *idempotency.Guard
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if p.StripeClient != nil && p.StripeWebhookGuard != nil {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhookService, p.StripeClient, p.StripeWebhookGuard, logg))
		}
		if p.SquareWebhookService != nil && p.SquareClient != nil && p.SquareWebhookGuard != nil {
			r.Post("/square", webhookcontrollers.SquareWebhook(p.SquareWebhookService, p.SquareClient, p.SquareWebhookGuard, logg))
		}
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.Idempotency(p.IdempotencyStore, logg))
		r.Post("/{orderId}/payment", controllers.StartPayment(p.Payments, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminKey(cfg.App.AdminAPIKey, logg))
		r.Use(middleware.Idempotency(p.IdempotencyStore, logg))

		r.Post("/orders/{orderId}/reconcile", controllers.AdminReconcileOrder(p.Reconciliation, logg))
		r.Get("/users/{userId}/points", controllers.AdminUserPoints(p.Ledger, logg))
		r.Route("/recipients/{recipientId}/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
		})
	})

	return r
}
