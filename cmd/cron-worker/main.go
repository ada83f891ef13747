package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/localcommerce-settlement/internal/bootstrap"
	"github.com/angelmondragon/localcommerce-settlement/internal/cron"
	"github.com/angelmondragon/localcommerce-settlement/internal/notifications"
	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	only := flag.String("jobs", "", "comma separated job names to run (default: all)")
	flag.Parse()

	proc := bootstrap.Start("cron-worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger
	ctx := context.Background()

	dbClient := proc.Database(ctx)
	redisClient := proc.Redis(ctx)

	engine, err := bootstrap.NewSettlement(ctx, cfg, dbClient.DB(), prometheus.DefaultRegisterer, logg)
	proc.Must(ctx, "settlement engine", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	proc.Must(ctx, "cron lock", err)

	registry, err := buildRegistry(logg, cfg.Cron, engine, dbClient)
	proc.Must(ctx, "cron jobs", err)
	if *only != "" {
		registry, err = registry.Select(strings.Split(*only, ",")...)
		proc.Must(ctx, "-jobs selection", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.LockTTL,
	})
	proc.Must(ctx, "cron service", err)

	runCtx, stop := proc.SignalContext()
	defer stop()
	if *once {
		proc.Must(runCtx, "cron cycle", service.RunOnce(runCtx))
		return
	}

	proc.ServeMetrics(runCtx, prometheus.DefaultGatherer)
	logg.Info(runCtx, "starting cron worker")
	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		proc.Close()
		os.Exit(1)
	}
	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

func buildRegistry(logg *logger.Logger, cronCfg config.CronConfig, engine *bootstrap.Settlement, dbClient *db.Client) (*cron.Registry, error) {
	reconcileJob, err := cron.NewReconciliationJob(logg, engine.Reconciliation)
	if err != nil {
		return nil, err
	}
	pointsJob, err := cron.NewPointsAuditJob(logg, engine.Ledger, 0)
	if err != nil {
		return nil, err
	}
	outboxJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "outbox-retention",
		Logger:    logg,
		Retention: cronCfg.Retention,
		Every:     cronCfg.RetentionEvery,
		Delete:    outbox.NewRepository(dbClient.DB()).DeletePublishedBefore,
	})
	if err != nil {
		return nil, err
	}
	notificationJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "notification-retention",
		Logger:    logg,
		Retention: cronCfg.Retention,
		Every:     cronCfg.RetentionEvery,
		Delete:    notifications.NewRepository(dbClient.DB()).DeleteReadBefore,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(reconcileJob, pointsJob, outboxJob, notificationJob)
}
