package main

import (
	"context"
	"errors"
	"os"

	"github.com/angelmondragon/localcommerce-settlement/internal/analytics/router"
	"github.com/angelmondragon/localcommerce-settlement/internal/analytics/worker"
	"github.com/angelmondragon/localcommerce-settlement/internal/analytics/writer"
	"github.com/angelmondragon/localcommerce-settlement/internal/bootstrap"
	"github.com/angelmondragon/localcommerce-settlement/pkg/bigquery"
	"github.com/angelmondragon/localcommerce-settlement/pkg/idempotency"
	"github.com/angelmondragon/localcommerce-settlement/pkg/pubsub"
)

func main() {
	proc := bootstrap.Start("analytics-worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger
	ctx := context.Background()

	redisClient := proc.Redis(ctx)

	subscriptionName := cfg.PubSub.AnalyticsSubscription
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, logg, pubsub.Subscription(subscriptionName))
	proc.Must(ctx, "pubsub", err)
	proc.Defer("pubsub client", pubsubClient)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	proc.Must(ctx, "bigquery", err)
	proc.Defer("bigquery client", bqClient)

	table := cfg.BigQuery.SettlementsTable
	proc.Must(ctx, "settlements table", bqClient.EnsureTable(ctx, table, writer.SettlementSchema(), writer.PartitionField, cfg.BigQuery.CreateTables))

	subscription := pubsubClient.Subscriber(subscriptionName)
	if subscription == nil {
		proc.Must(ctx, "analytics subscription", errors.New("subscription not configured"))
	}

	guard, err := idempotency.NewGuard(redisClient, worker.ConsumerScope, cfg.Eventing.OutboxIdempotencyTTL)
	proc.Must(ctx, "idempotency guard", err)

	rowWriter, err := writer.New(bqClient, writer.Config{SettlementsTable: table})
	proc.Must(ctx, "analytics writer", err)

	handler, err := router.NewRouter(rowWriter, logg, nil)
	proc.Must(ctx, "analytics router", err)

	service, err := worker.NewService(subscription, handler, guard, logg)
	proc.Must(ctx, "analytics worker", err)

	runCtx, stop := proc.SignalContext()
	defer stop()

	err = bootstrap.Ready(runCtx, logg, 0,
		bootstrap.Check{Name: "redis", Ping: redisClient.Ping},
		bootstrap.Check{Name: "pubsub", Ping: pubsubClient.Ping},
		bootstrap.Check{Name: "bigquery", Ping: bqClient.Ping},
	)
	proc.Must(runCtx, "readiness", err)
	logg.Info(runCtx, "settlement analytics worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		proc.Close()
		os.Exit(1)
	}
}
