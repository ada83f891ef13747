package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/migrate"
	"github.com/angelmondragon/localcommerce-settlement/pkg/redis"
)

type namedCloser struct {
	name string
	c    io.Closer
}

// Process carries what every binary sets up before wiring its own
// components: config, the service logger and the resources to release on
// the way out.
type Process struct {
	Config *config.Config
	Logger *logger.Logger

	closers []namedCloser
	exit    func(code int)
}

// Start loads .env and config for the named service kind and builds its
// logger. A config failure ends the process.
func Start(kind string) *Process {
	p := &Process{Logger: logger.New(logger.Options{ServiceName: kind}), exit: os.Exit}
	if err := godotenv.Load(); err != nil {
		p.Logger.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	p.Must(context.Background(), "config", err)
	cfg.Service.Kind = kind
	p.Config = cfg
	p.Logger = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	return p
}

// Must ends the process when err is set, releasing what was opened so far.
func (p *Process) Must(ctx context.Context, resource string, err error) {
	if err == nil {
		return
	}
	p.Logger.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	p.Close()
	p.exit(1)
}

// Defer registers c to be closed by Close, newest first.
func (p *Process) Defer(name string, c io.Closer) {
	if c != nil {
		p.closers = append(p.closers, namedCloser{name: name, c: c})
	}
}

// Close releases registered resources in reverse order. It is safe to call
// more than once.
func (p *Process) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		entry := p.closers[i]
		if err := entry.c.Close(); err != nil {
			p.Logger.Error(context.Background(), "error closing "+entry.name, err)
		}
	}
	p.closers = nil
}

// Database opens Postgres and applies embedded migrations when the dev
// auto-migrate flag is on.
func (p *Process) Database(ctx context.Context) *db.Client {
	client, err := db.New(ctx, p.Config.DB, p.Logger)
	p.Must(ctx, "database", err)
	p.Defer("database", client)
	p.Must(ctx, "dev migrations", migrate.MaybeRunDev(ctx, p.Config, p.Logger, client))
	return client
}

func (p *Process) Redis(ctx context.Context) *redis.Client {
	client, err := redis.New(ctx, p.Config.Redis, p.Logger)
	p.Must(ctx, "redis", err)
	p.Defer("redis", client)
	return client
}

// SignalContext is canceled on SIGINT or SIGTERM and carries the env and
// service kind as log fields.
func (p *Process) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return p.Logger.WithFields(ctx, map[string]any{
		"env":         p.Config.App.Env,
		"serviceKind": p.Config.Service.Kind,
	}), stop
}

// ServeMetrics exposes g on the configured worker metrics address until ctx
// ends. It is a no-op when no address is configured.
func (p *Process) ServeMetrics(ctx context.Context, g prometheus.Gatherer) {
	addr := p.Config.Service.MetricsAddr
	if addr == "" || g == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		p.Logger.Info(p.Logger.WithField(ctx, "addr", addr), "serving worker metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.Logger.Error(ctx, "worker metrics server stopped", err)
		}
	}()
}
