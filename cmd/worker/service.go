package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/localcommerce-settlement/internal/bootstrap"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

type consumer interface {
	Run(ctx context.Context) error
}

// runConsumer starts c once every dependency answers and blocks until it
// stops. Cancellation is a clean exit.
func runConsumer(ctx context.Context, logg *logger.Logger, c consumer, checks ...bootstrap.Check) error {
	if c == nil {
		return errors.New("notification consumer is required")
	}
	if err := bootstrap.Ready(ctx, logg, 0, checks...); err != nil {
		return err
	}
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
