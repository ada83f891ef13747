package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/internal/cart"
	"github.com/angelmondragon/localcommerce-settlement/internal/commission"
	"github.com/angelmondragon/localcommerce-settlement/internal/inventory"
	"github.com/angelmondragon/localcommerce-settlement/internal/orders"
	"github.com/angelmondragon/localcommerce-settlement/internal/rewards"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// errLostRace rolls back a settlement whose status guard missed.
var errLostRace = errors.New("order left awaiting_payment before update")

// Params wires an Orchestrator.
type Params struct {
	DB           txRunner
	Orders       orders.Repository
	Businesses   *businesses.Repository
	Carts        *cart.Repository
	Inventory    *inventory.Guard
	Ledger       *rewards.Ledger
	Resolver     *commission.Resolver
	Outbox       outboxEmitter
	CashbackRate decimal.Decimal
	Metrics      *metrics.SettlementMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

// Orchestrator finalizes paid orders. All invariants are enforced by row
// locks and guarded writes in the database, so any number of instances may
// run concurrently.
type Orchestrator struct {
	db           txRunner
	orders       orders.Repository
	businesses   *businesses.Repository
	carts        *cart.Repository
	inventory    *inventory.Guard
	ledger       *rewards.Ledger
	resolver     *commission.Resolver
	outbox       outboxEmitter
	cashbackRate decimal.Decimal
	metrics      *metrics.SettlementMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewOrchestrator(p Params) (*Orchestrator, error) {
	switch {
	case p.DB == nil:
		return nil, fmt.Errorf("db required")
	case p.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Businesses == nil:
		return nil, fmt.Errorf("businesses repository required")
	case p.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case p.Inventory == nil:
		return nil, fmt.Errorf("inventory guard required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("rewards ledger required")
	case p.Resolver == nil:
		return nil, fmt.Errorf("commission resolver required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if p.CashbackRate.IsNegative() || p.CashbackRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("cashback rate %s outside [0,1]", p.CashbackRate)
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Orchestrator{
		db:           p.DB,
		orders:       p.Orders,
		businesses:   p.Businesses,
		carts:        p.Carts,
		inventory:    p.Inventory,
		ledger:       p.Ledger,
		resolver:     p.Resolver,
		outbox:       p.Outbox,
		cashbackRate: p.CashbackRate,
		metrics:      p.Metrics,
		logg:         p.Logger,
		now:          p.Now,
	}, nil
}

// Finalize applies a successful payment to its order exactly once. Duplicate
// and late deliveries return a non-error Result describing why nothing changed.
func (o *Orchestrator) Finalize(ctx context.Context, n PaymentNotification) (Result, error) {
	started := o.now()
	ctx = o.logg.WithOrderID(ctx, n.OrderID.String())
	ctx = o.logg.WithFields(ctx, map[string]any{
		"provider":       string(n.Provider),
		"correlation_id": n.CorrelationID,
	})

	if err := n.validate(); err != nil {
		return Result{}, err
	}

	var result Result
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = o.finalizeTx(ctx, tx, n)
		return err
	})
	if errors.Is(err, errLostRace) {
		result = Result{Outcome: OutcomeAlreadySettled, OrderID: n.OrderID}
		err = nil
	}

	outcome := string(result.Outcome)
	if err != nil {
		outcome = "error"
	}
	o.metrics.ObserveFinalize(string(n.Provider), outcome, o.now().Sub(started))

	if err != nil {
		if pkgerrors.As(err) != nil {
			return result, err
		}
		o.logg.Error(ctx, "settlement transaction rolled back", err)
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settlement transaction failed")
	}

	logCtx := o.logg.WithField(ctx, "outcome", outcome)
	switch result.Outcome {
	case OutcomeSettled:
		logCtx = o.logg.WithFields(logCtx, map[string]any{
			"commission_cents":      result.CommissionCents,
			"business_amount_cents": result.BusinessAmountCents,
			"commission_rate":       result.Rate.String(),
			"commission_source":     string(result.RateSource),
			"points_earned":         result.PointsEarned,
			"stock_shortages":       len(result.Shortages),
		})
		o.logg.Info(logCtx, "order settled")
	case OutcomeAuditOnly:
		o.logg.Warn(logCtx, "payment received for order no longer awaiting payment")
	default:
		o.logg.Info(logCtx, "settlement skipped")
	}
	return result, nil
}

func (o *Orchestrator) finalizeTx(ctx context.Context, tx *gorm.DB, n PaymentNotification) (Result, error) {
	orderRepo := o.orders.WithTx(tx)

	order, err := orderRepo.FindForUpdate(ctx, n.OrderID)
	if err != nil {
		if orders.IsNotFound(err) {
			return Result{}, ErrOrderNotFound
		}
		return Result{}, fmt.Errorf("lock order: %w", err)
	}
	result := Result{OrderID: order.ID, Status: order.Status}

	if order.IsSettledWith(n.CorrelationID) {
		result.Outcome = OutcomeDuplicate
		return result, nil
	}

	inUse, err := orderRepo.CorrelationInUse(ctx, n.CorrelationID, order.ID)
	if err != nil {
		return Result{}, fmt.Errorf("check correlation id: %w", err)
	}

	business, err := o.loadBusiness(ctx, tx, order.BusinessID)
	if err != nil {
		return Result{}, err
	}
	amount := settledAmount(order, n)
	quote := o.resolver.Resolve(ctx, tx, business)
	split := commission.SplitAmount(amount, quote.Rate)
	result.Rate = quote.Rate
	result.RateSource = quote.Source
	result.CommissionCents = split.CommissionCents
	result.BusinessAmountCents = split.BusinessAmountCents

	if order.Status != enums.OrderStatusAwaitingPayment {
		return o.recordAudit(ctx, tx, order, n, quote, split, inUse, result)
	}
	if inUse {
		return Result{}, ErrCorrelationConflict
	}

	notes := mismatchNotes(order, n)
	settledAt := o.now().UTC()
	applied, err := orderRepo.MarkProcessing(ctx, order.ID, orders.Settlement{
		Provider:            n.Provider,
		CorrelationID:       n.CorrelationID,
		Rate:                quote.Rate,
		CommissionCents:     split.CommissionCents,
		BusinessAmountCents: split.BusinessAmountCents,
		SettledAt:           settledAt,
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return Result{}, errLostRace
	}
	result.Status = enums.OrderStatusProcessing

	for _, item := range order.Items {
		shortage, err := o.reserveStock(ctx, tx, item)
		if err != nil {
			return Result{}, err
		}
		if shortage != nil {
			result.Shortages = append(result.Shortages, *shortage)
			notes = append(notes, shortageNote(*shortage))
		}
	}

	if _, err := o.carts.WithTx(tx).ClearForUser(ctx, order.UserID); err != nil {
		return Result{}, err
	}

	if order.PointsUsed > 0 {
		_, err := o.ledger.Redeem(ctx, tx, order.UserID, &order.ID, order.PointsUsed)
		switch {
		case errors.Is(err, rewards.ErrInsufficientBalance):
			result.RedemptionSkipped = true
			notes = append(notes, fmt.Sprintf("points redemption of %d skipped: insufficient balance", order.PointsUsed))
			o.logg.Warn(o.logg.WithField(ctx, "points_used", order.PointsUsed), "points redemption skipped")
		case err != nil:
			return Result{}, err
		default:
			result.PointsRedeemed = order.PointsUsed
		}
	}

	if points := rewards.CashbackPoints(amount, o.cashbackRate); points > 0 {
		if _, err := o.ledger.Earn(ctx, tx, order.UserID, &order.ID, points); err != nil {
			return Result{}, err
		}
		if err := orderRepo.SetPointsEarned(ctx, order.ID, points); err != nil {
			return Result{}, err
		}
		result.PointsEarned = points
	}

	for _, note := range notes {
		if err := orderRepo.AppendNote(ctx, order.ID, note); err != nil {
			return Result{}, err
		}
	}

	if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         n.Actor,
		OccurredAt:    settledAt,
		Data:          settledPayload(order, n, quote, split, amount, result, settledAt),
	}); err != nil {
		return Result{}, err
	}

	result.Outcome = OutcomeSettled
	return result, nil
}

func (o *Orchestrator) recordAudit(ctx context.Context, tx *gorm.DB, order *models.Order, n PaymentNotification, quote commission.Quote, split commission.Split, inUse bool, result Result) (Result, error) {
	orderRepo := o.orders.WithTx(tx)
	audit := orders.Audit{
		Provider:            n.Provider,
		CorrelationID:       n.CorrelationID,
		Rate:                quote.Rate,
		CommissionCents:     split.CommissionCents,
		BusinessAmountCents: split.BusinessAmountCents,
	}
	if inUse {
		audit.CorrelationID = ""
	}
	if err := orderRepo.RecordAudit(ctx, order.ID, audit); err != nil {
		return Result{}, fmt.Errorf("record settlement audit: %w", err)
	}
	note := fmt.Sprintf("%s payment %s received while order was %s; no side effects applied", n.Provider, n.CorrelationID, order.Status)
	if err := orderRepo.AppendNote(ctx, order.ID, note); err != nil {
		return Result{}, err
	}
	if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderSettlementAudit,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         n.Actor,
		Data: payloads.OrderSettlementAuditedEvent{
			OrderID:       order.ID,
			BusinessID:    order.BusinessID,
			Provider:      n.Provider,
			CorrelationID: n.CorrelationID,
			OrderStatus:   order.Status,
			AmountCents:   n.AmountCents,
		},
	}); err != nil {
		return Result{}, err
	}
	result.Outcome = OutcomeAuditOnly
	return result, nil
}

// reserveStock decrements stock for one line item, clamping to zero when the
// catalog cannot cover the quantity.
func (o *Orchestrator) reserveStock(ctx context.Context, tx *gorm.DB, item models.OrderLineItem) (*Shortage, error) {
	dec, err := o.inventory.DecrementIfAvailable(ctx, tx, item.ItemID, item.Quantity)
	if err != nil {
		return nil, err
	}
	if dec.Applied {
		return nil, nil
	}
	shortage := &Shortage{ItemID: item.ItemID, Name: item.Name, Requested: item.Quantity}
	if dec.Missing {
		shortage.Missing = true
		return shortage, nil
	}
	previous, err := o.inventory.ClampToZero(ctx, tx, item.ItemID)
	if err != nil {
		return nil, err
	}
	shortage.Available = previous
	o.logg.Warn(o.logg.WithFields(ctx, map[string]any{
		"item_id":   item.ItemID.String(),
		"requested": item.Quantity,
		"available": previous,
	}), "stock shortage clamped to zero")
	return shortage, nil
}

func (o *Orchestrator) loadBusiness(ctx context.Context, tx *gorm.DB, businessID uuid.UUID) (*models.Business, error) {
	business, err := o.businesses.WithTx(tx).FindByID(ctx, businessID)
	if err == nil {
		return business, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		o.logg.Warn(o.logg.WithBusinessID(ctx, businessID.String()), "business missing, resolving commission without overrides")
		return &models.Business{ID: businessID}, nil
	}
	return nil, fmt.Errorf("load business: %w", err)
}

// settledAmount prefers the processor's amount and falls back to the order total.
func settledAmount(order *models.Order, n PaymentNotification) int64 {
	if n.AmountCents > 0 {
		return n.AmountCents
	}
	return order.TotalCents
}

func mismatchNotes(order *models.Order, n PaymentNotification) []string {
	var notes []string
	if n.AmountCents > 0 && n.AmountCents != order.TotalCents {
		notes = append(notes, fmt.Sprintf("settled amount %d differs from order total %d", n.AmountCents, order.TotalCents))
	}
	if n.Currency != "" && !strings.EqualFold(n.Currency, order.Currency) {
		notes = append(notes, fmt.Sprintf("settled currency %s differs from order currency %s", strings.ToLower(n.Currency), order.Currency))
	}
	if n.BusinessID != uuid.Nil && n.BusinessID != order.BusinessID {
		notes = append(notes, fmt.Sprintf("notification business %s differs from order business", n.BusinessID))
	}
	return notes
}

func shortageNote(s Shortage) string {
	if s.Missing {
		return fmt.Sprintf("stock shortage: %s (%s) no longer in catalog, %d ordered", s.Name, s.ItemID, s.Requested)
	}
	return fmt.Sprintf("stock shortage: %s (%s) ordered %d, only %d in stock; stock set to 0", s.Name, s.ItemID, s.Requested, s.Available)
}

func settledPayload(order *models.Order, n PaymentNotification, quote commission.Quote, split commission.Split, amount int64, result Result, settledAt time.Time) payloads.OrderSettledEvent {
	items := make([]payloads.SettledItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payloads.SettledItem{
			ItemID:         item.ItemID,
			Kind:           item.ItemKind,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return payloads.OrderSettledEvent{
		OrderID:             order.ID,
		UserID:              order.UserID,
		BusinessID:          order.BusinessID,
		Provider:            n.Provider,
		CorrelationID:       n.CorrelationID,
		Currency:            order.Currency,
		TotalCents:          amount,
		CommissionRate:      quote.Rate.String(),
		CommissionSource:    string(quote.Source),
		CommissionTier:      quote.Tier,
		ScheduleVersion:     quote.ScheduleVersion,
		CommissionCents:     split.CommissionCents,
		BusinessAmountCents: split.BusinessAmountCents,
		PointsRedeemed:      result.PointsRedeemed,
		PointsEarned:        result.PointsEarned,
		StockShortages:      len(result.Shortages),
		Items:               items,
		SettledAt:           settledAt,
	}
}
