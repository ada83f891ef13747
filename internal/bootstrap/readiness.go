package bootstrap

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

const defaultReadyTimeout = 10 * time.Second

// Check is one dependency a worker needs before it starts consuming.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Ready pings every check concurrently and returns the first failure.
// Each ping is bounded by timeout.
func Ready(ctx context.Context, logg *logger.Logger, timeout time.Duration, checks ...Check) error {
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, check := range checks {
		g.Go(func() error {
			if check.Ping == nil {
				return fmt.Errorf("%s: no ping configured", check.Name)
			}
			pingCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := check.Ping(pingCtx); err != nil {
				logg.Error(ctx, fmt.Sprintf("%s ping failed", check.Name), err)
				return fmt.Errorf("%s ping failed: %w", check.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logg.Info(ctx, "dependencies ready")
	return nil
}
