package main

import (
	"context"
	"errors"
	"os"

	"github.com/angelmondragon/localcommerce-settlement/internal/bootstrap"
	"github.com/angelmondragon/localcommerce-settlement/internal/notifications"
	"github.com/angelmondragon/localcommerce-settlement/pkg/idempotency"
	"github.com/angelmondragon/localcommerce-settlement/pkg/pubsub"
)

func main() {
	proc := bootstrap.Start("worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger
	ctx := context.Background()

	dbClient := proc.Database(ctx)
	redisClient := proc.Redis(ctx)

	subscriptionName := cfg.PubSub.NotificationSubscription
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, logg, pubsub.Subscription(subscriptionName))
	proc.Must(ctx, "pubsub", err)
	proc.Defer("pubsub client", pubsubClient)

	subscription := pubsubClient.Subscriber(subscriptionName)
	if subscription == nil {
		proc.Must(ctx, "notification subscription", errors.New("subscription not configured"))
	}

	guard, err := idempotency.NewGuard(redisClient, notifications.ConsumerScope, cfg.Eventing.OutboxIdempotencyTTL)
	proc.Must(ctx, "idempotency guard", err)

	notificationService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()), dbClient)
	proc.Must(ctx, "notifications service", err)
	consumer, err := notifications.NewConsumer(notificationService, subscription, guard, logg)
	proc.Must(ctx, "notification consumer", err)

	runCtx, stop := proc.SignalContext()
	defer stop()
	logg.Info(runCtx, "starting notification worker")

	err = runConsumer(runCtx, logg, consumer,
		bootstrap.Check{Name: "database", Ping: dbClient.Ping},
		bootstrap.Check{Name: "redis", Ping: redisClient.Ping},
		bootstrap.Check{Name: "pubsub", Ping: pubsubClient.Ping},
	)
	if err != nil {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		proc.Close()
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}
