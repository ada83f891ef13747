package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/localcommerce-settlement/internal/bootstrap"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox/registry"
	"github.com/angelmondragon/localcommerce-settlement/pkg/pubsub"
)

func main() {
	listDLQ := flag.Bool("dlq", false, "print the most recent dead letters and exit")
	requeue := flag.String("requeue", "", "hand a dead-lettered event id back to the publisher and exit")
	flag.Parse()

	proc := bootstrap.Start("outbox-publisher")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger
	ctx := context.Background()

	dbClient := proc.Database(ctx)
	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	if *listDLQ || *requeue != "" {
		proc.Must(ctx, "dead letter command", runDLQCommand(ctx, dlqRepo, *listDLQ, *requeue))
		return
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, logg, pubsub.Topic(cfg.PubSub.SettlementTopic))
	proc.Must(ctx, "pubsub", err)
	proc.Defer("pubsub client", pubsubClient)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	proc.Must(ctx, "event registry", err)

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	proc.Must(ctx, "outbox publisher", err)

	runCtx, stop := proc.SignalContext()
	defer stop()
	runCtx = logg.WithField(runCtx, "topics", eventRegistry.Topics())
	proc.ServeMetrics(runCtx, prometheus.DefaultGatherer)
	logg.Info(runCtx, "starting outbox publisher")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "outbox publisher stopped unexpectedly", err)
		proc.Close()
		os.Exit(1)
	}
	logg.Info(runCtx, "outbox publisher shutting down gracefully")
}

func runDLQCommand(ctx context.Context, repo *outbox.DLQRepository, list bool, requeue string) error {
	if requeue != "" {
		eventID, err := uuid.Parse(requeue)
		if err != nil {
			return fmt.Errorf("invalid event id %q: %w", requeue, err)
		}
		if err := repo.Requeue(ctx, eventID); err != nil {
			return err
		}
		fmt.Printf("requeued %s\n", eventID)
	}
	if !list {
		return nil
	}
	rows, err := repo.Recent(ctx, 50)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tTYPE\tREASON\tATTEMPTS\tFAILED AT\tERROR")
	for _, row := range rows {
		msg := ""
		if row.ErrorMessage != nil {
			msg = *row.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", row.EventID, row.EventType, row.ErrorReason, row.AttemptCount, row.FailedAt.Format(time.RFC3339), msg)
	}
	return w.Flush()
}
