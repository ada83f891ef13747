package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/localcommerce-settlement/api/controllers"
	"github.com/angelmondragon/localcommerce-settlement/api/routes"
	"github.com/angelmondragon/localcommerce-settlement/internal/bootstrap"
	"github.com/angelmondragon/localcommerce-settlement/internal/notifications"
	"github.com/angelmondragon/localcommerce-settlement/internal/webhooks"
	squarewebhook "github.com/angelmondragon/localcommerce-settlement/internal/webhooks/square"
	stripewebhook "github.com/angelmondragon/localcommerce-settlement/internal/webhooks/stripe"
	"github.com/angelmondragon/localcommerce-settlement/pkg/idempotency"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	proc := bootstrap.Start("api")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger
	bootCtx := context.Background()

	dbClient := proc.Database(bootCtx)
	redisClient := proc.Redis(bootCtx)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	engine, err := bootstrap.NewSettlement(bootCtx, cfg, dbClient.DB(), registry, logg)
	proc.Must(bootCtx, "settlement engine", err)

	paymentsService, err := engine.Payments(logg)
	proc.Must(bootCtx, "payments service", err)

	processor, err := webhooks.NewProcessor(webhooks.NewEventLog(dbClient.DB()), engine.Metrics, logg)
	proc.Must(bootCtx, "webhook processor", err)

	stripeWebhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Settler:           engine.Orchestrator,
		Orders:            engine.Orders,
		Businesses:        engine.Businesses,
		Outbox:            engine.Outbox,
		Processor:         processor,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	proc.Must(bootCtx, "stripe webhook service", err)
	stripeGuard, err := idempotency.NewGuard(redisClient, "stripe-webhook", cfg.Eventing.WebhookIdempotencyTTL)
	proc.Must(bootCtx, "stripe webhook guard", err)

	routerParams := routes.Params{
		Config: cfg,
		Logger: logg,
		Readiness: map[string]controllers.Pinger{
			"db":    dbClient,
			"redis": redisClient,
		},
		Gatherer:             registry,
		HTTPMetrics:          metrics.NewHTTPMetrics(registry),
		IdempotencyStore:     redisClient,
		Payments:             paymentsService,
		Reconciliation:       engine.Reconciliation,
		Ledger:               engine.Ledger,
		StripeClient:         engine.StripeClient,
		StripeWebhookService: stripeWebhookService,
		StripeWebhookGuard:   stripeGuard,
	}

	if engine.SquareClient != nil {
		squareWebhookService, err := squarewebhook.NewService(squarewebhook.ServiceParams{
			Settler:           engine.Orchestrator,
			Businesses:        engine.Businesses,
			Outbox:            engine.Outbox,
			Processor:         processor,
			TransactionRunner: dbClient,
			Logger:            logg,
		})
		proc.Must(bootCtx, "square webhook service", err)
		squareGuard, err := idempotency.NewGuard(redisClient, "square-webhook", cfg.Eventing.WebhookIdempotencyTTL)
		proc.Must(bootCtx, "square webhook guard", err)
		routerParams.SquareClient = engine.SquareClient
		routerParams.SquareWebhookService = squareWebhookService
		routerParams.SquareWebhookGuard = squareGuard
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()), dbClient)
	proc.Must(bootCtx, "notifications service", err)
	routerParams.Notifications = notificationsService

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":            cfg.App.Env,
		"addr":           addr,
		"square_enabled": engine.SquareClient != nil,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(routerParams),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := proc.SignalContext()
	defer stop()

	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		proc.Must(ctx, "api server", err)
	}
	logg.Info(ctx, "api server stopped")
}
