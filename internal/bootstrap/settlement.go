// Package bootstrap assembles the settlement engine shared by the API and the
// cron worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/internal/cart"
	"github.com/angelmondragon/localcommerce-settlement/internal/commission"
	"github.com/angelmondragon/localcommerce-settlement/internal/inventory"
	"github.com/angelmondragon/localcommerce-settlement/internal/orders"
	"github.com/angelmondragon/localcommerce-settlement/internal/payments"
	"github.com/angelmondragon/localcommerce-settlement/internal/reconciliation"
	"github.com/angelmondragon/localcommerce-settlement/internal/rewards"
	"github.com/angelmondragon/localcommerce-settlement/internal/settlement"
	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	dbpkg "github.com/angelmondragon/localcommerce-settlement/pkg/db"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
	pkgsquare "github.com/angelmondragon/localcommerce-settlement/pkg/square"
	pkgstripe "github.com/angelmondragon/localcommerce-settlement/pkg/stripe"
)

// Settlement holds the wired engine.
type Settlement struct {
	DB             *gorm.DB
	Orders         orders.Repository
	Businesses     *businesses.Repository
	Ledger         *rewards.Ledger
	Resolver       *commission.Resolver
	Outbox         *outbox.Service
	Orchestrator   *settlement.Orchestrator
	Gateways       payments.Registry
	Reconciliation *reconciliation.Service
	Metrics        *metrics.SettlementMetrics

	StripeClient *pkgstripe.Client
	SquareClient *pkgsquare.Client
}

// NewSettlement builds the processors, commission resolver, orchestrator and
// reconciliation service from config. Square is only wired when its feature
// flag is on.
func NewSettlement(ctx context.Context, cfg *config.Config, conn *gorm.DB, reg prometheus.Registerer, logg *logger.Logger) (*Settlement, error) {
	schedule, err := commission.LoadSchedule(cfg.Settlement.TierScheduleFile)
	if err != nil {
		return nil, err
	}
	resolver, err := commission.NewResolver(commission.Options{
		Schedule:    schedule,
		DefaultRate: cfg.Settlement.DefaultRateDecimal(),
		Window:      cfg.Settlement.TurnoverWindow,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("commission resolver: %w", err)
	}

	out := &Settlement{
		DB:         conn,
		Orders:     orders.NewRepository(conn),
		Businesses: businesses.NewRepository(conn),
		Ledger:     rewards.NewLedger(conn),
		Resolver:   resolver,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logg),
		Metrics:    metrics.NewSettlementMetrics(reg),
	}

	out.StripeClient, err = pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	stripeGateway, err := payments.NewStripeGateway(out.StripeClient)
	if err != nil {
		return nil, err
	}
	gateways := []payments.Gateway{stripeGateway}

	if cfg.FeatureFlags.SquareEnabled {
		out.SquareClient, err = pkgsquare.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		squareGateway, err := payments.NewSquareGateway(out.SquareClient)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, squareGateway)
	}
	out.Gateways = payments.NewRegistry(gateways...)

	out.Orchestrator, err = settlement.NewOrchestrator(settlement.Params{
		DB:           dbpkg.FromGorm(conn),
		Orders:       out.Orders,
		Businesses:   out.Businesses,
		Carts:        cart.NewRepository(conn),
		Inventory:    inventory.NewGuard(),
		Ledger:       out.Ledger,
		Resolver:     resolver,
		Outbox:       out.Outbox,
		CashbackRate: cfg.Settlement.CashbackDecimal(),
		Metrics:      out.Metrics,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement orchestrator: %w", err)
	}

	out.Reconciliation, err = reconciliation.NewService(reconciliation.ServiceParams{
		Orders:       out.Orders,
		Gateways:     out.Gateways,
		Orchestrator: out.Orchestrator,
		Logger:       logg,
		StaleAfter:   cfg.Reconciliation.StaleAfter,
		MaxAge:       cfg.Reconciliation.MaxAge,
		BatchSize:    cfg.Reconciliation.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation service: %w", err)
	}
	return out, nil
}

// Payments builds the checkout service that opens processor payments.
func (s *Settlement) Payments(logg *logger.Logger) (*payments.Service, error) {
	return payments.NewService(payments.ServiceParams{
		DB:         s.DB,
		Orders:     s.Orders,
		Businesses: s.Businesses,
		Resolver:   s.Resolver,
		Gateways:   s.Gateways,
		Logger:     logg,
	})
}
