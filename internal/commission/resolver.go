package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

// Source names the rule that produced a commission rate.
type Source string

const (
	SourceTrial      Source = "trial"
	SourceOverride   Source = "override"
	SourceTier       Source = "tier"
	SourceLowestTier Source = "lowest_tier"
	SourceDefault    Source = "platform_default"
)

// Quote is a resolved rate plus the inputs that led to it, kept for audit.
type Quote struct {
	Rate            decimal.Decimal
	Source          Source
	Tier            string
	ScheduleVersion string
	Turnover        decimal.Decimal
}

// TurnoverReader sums a business's recognized revenue, in minor units, since a point in time.
type TurnoverReader interface {
	TurnoverCents(ctx context.Context, db *gorm.DB, businessID uuid.UUID, since time.Time) (int64, error)
}

// Options configures a Resolver.
type Options struct {
	Schedule    *Schedule
	DefaultRate decimal.Decimal
	Window      time.Duration
	Turnover    TurnoverReader
	Logger      *logger.Logger
	Now         func() time.Time
}

// Resolver maps a business to its effective commission rate. It never writes.
type Resolver struct {
	schedule    *Schedule
	defaultRate decimal.Decimal
	window      time.Duration
	turnover    TurnoverReader
	logg        *logger.Logger
	now         func() time.Time
}

const defaultWindow = 30 * 24 * time.Hour

// NewResolver validates the schedule and default rate. A nil schedule makes
// every non-trial, non-override business fall back to the default rate.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Schedule != nil {
		if err := opts.Schedule.Validate(); err != nil {
			return nil, err
		}
	}
	if !validRate(opts.DefaultRate) {
		return nil, fmt.Errorf("default commission rate %s outside [0,1] or finer than %d decimals", opts.DefaultRate, RateScale)
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Turnover == nil {
		opts.Turnover = OrderTurnover{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		schedule:    opts.Schedule,
		defaultRate: opts.DefaultRate,
		window:      opts.Window,
		turnover:    opts.Turnover,
		logg:        opts.Logger,
		now:         opts.Now,
	}, nil
}

// ResolveRate returns the effective rate for business and the rule that chose it.
func (r *Resolver) ResolveRate(ctx context.Context, db *gorm.DB, business *models.Business) (decimal.Decimal, Source) {
	quote := r.Resolve(ctx, db, business)
	return quote.Rate, quote.Source
}

// Resolve applies trial, override, tier and default rules in that order.
// Turnover read failures degrade to the platform default rate.
func (r *Resolver) Resolve(ctx context.Context, db *gorm.DB, business *models.Business) Quote {
	now := r.now().UTC()

	if business.TrialEndsAt != nil && now.Before(*business.TrialEndsAt) {
		return Quote{Rate: decimal.Zero, Source: SourceTrial}
	}
	if business.CommissionRateOverride.Valid && validRate(business.CommissionRateOverride.Decimal) {
		return Quote{Rate: business.CommissionRateOverride.Decimal, Source: SourceOverride}
	}
	if r.schedule == nil || len(r.schedule.Tiers) == 0 {
		return Quote{Rate: r.defaultRate, Source: SourceDefault}
	}

	cents, err := r.readTurnover(ctx, db, business.ID, now.Add(-r.window))
	if err != nil {
		if r.logg != nil {
			r.logg.Error(r.logg.WithBusinessID(ctx, business.ID.String()), "turnover lookup failed, using default commission rate", err)
		}
		return Quote{Rate: r.defaultRate, Source: SourceDefault, ScheduleVersion: r.schedule.Version}
	}

	turnover := decimal.NewFromInt(cents).Shift(-2)
	if tier, ok := r.schedule.Match(turnover); ok {
		return Quote{Rate: tier.Rate, Source: SourceTier, Tier: tier.Name, ScheduleVersion: r.schedule.Version, Turnover: turnover}
	}
	lowest := r.schedule.Lowest()
	return Quote{Rate: lowest.Rate, Source: SourceLowestTier, Tier: lowest.Name, ScheduleVersion: r.schedule.Version, Turnover: turnover}
}

// turnoverSavepoint isolates the turnover read inside a caller's transaction.
const turnoverSavepoint = "commission_turnover"

// readTurnover runs the turnover query under a savepoint when db is a
// transaction, so a failed read is rolled back on its own and the caller can
// keep using the transaction with the default rate.
func (r *Resolver) readTurnover(ctx context.Context, db *gorm.DB, businessID uuid.UUID, since time.Time) (int64, error) {
	if !inTransaction(db) {
		return r.turnover.TurnoverCents(ctx, db, businessID, since)
	}
	if err := db.SavePoint(turnoverSavepoint).Error; err != nil {
		return 0, fmt.Errorf("turnover savepoint: %w", err)
	}
	cents, err := r.turnover.TurnoverCents(ctx, db, businessID, since)
	if err != nil {
		if rbErr := db.RollbackTo(turnoverSavepoint).Error; rbErr != nil {
			return 0, errors.Join(err, fmt.Errorf("rollback turnover savepoint: %w", rbErr))
		}
		return 0, err
	}
	return cents, nil
}

func inTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

// OrderTurnover reads turnover from the orders table.
type OrderTurnover struct{}

func (OrderTurnover) TurnoverCents(ctx context.Context, db *gorm.DB, businessID uuid.UUID, since time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database handle required")
	}
	var total int64
	err := db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(SUM(total_cents), 0)").
		Where("business_id = ? AND status IN ? AND created_at >= ?", businessID, enums.RevenueRecognizedStatuses, since.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum turnover: %w", err)
	}
	return total, nil
}

// RateScale is the number of decimal places a stored commission rate keeps
// (numeric(6,4)). Finer rates would be rounded on write and the audited rate
// could no longer reproduce the stored commission.
const RateScale = 4

// validRate reports whether rate lies in [0,1] and is representable at RateScale.
func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && !rate.GreaterThan(decimal.NewFromInt(1)) && rate.Equal(rate.Truncate(RateScale))
}
