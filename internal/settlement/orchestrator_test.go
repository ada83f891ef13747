package settlement

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/internal/cart"
	"github.com/angelmondragon/localcommerce-settlement/internal/commission"
	"github.com/angelmondragon/localcommerce-settlement/internal/inventory"
	"github.com/angelmondragon/localcommerce-settlement/internal/orders"
	"github.com/angelmondragon/localcommerce-settlement/internal/rewards"
	dbpkg "github.com/angelmondragon/localcommerce-settlement/pkg/db"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
)

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	orch   *Orchestrator
	ledger *rewards.Ledger
	orders orders.Repository
	carts  *cart.Repository
	outbox *outbox.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithTurnover(t, nil)
}

func newFixtureWithTurnover(t *testing.T, turnover commission.TurnoverReader) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard})

	resolver, err := commission.NewResolver(commission.Options{
		Schedule:    commission.DefaultSchedule(),
		DefaultRate: decimal.RequireFromString("0.10"),
		Turnover:    turnover,
		Logger:      logg,
	})
	require.NoError(t, err)

	outboxRepo := outbox.NewRepository(conn)
	ledger := rewards.NewLedger(conn)
	orderRepo := orders.NewRepository(conn)
	carts := cart.NewRepository(conn)

	orch, err := NewOrchestrator(Params{
		DB:           dbpkg.FromGorm(conn),
		Orders:       orderRepo,
		Businesses:   businesses.NewRepository(conn),
		Carts:        carts,
		Inventory:    inventory.NewGuard(),
		Ledger:       ledger,
		Resolver:     resolver,
		Outbox:       outbox.NewService(outboxRepo, logg),
		CashbackRate: decimal.RequireFromString("0.01"),
		Metrics:      metrics.NewSettlementMetrics(prometheus.NewRegistry()),
		Logger:       logg,
	})
	require.NoError(t, err)

	return &fixture{t: t, db: conn, orch: orch, ledger: ledger, orders: orderRepo, carts: carts, outbox: outboxRepo}
}

func (f *fixture) business(mutate func(*models.Business)) *models.Business {
	f.t.Helper()
	business := &models.Business{Name: "Corner Bakery", OwnerUserID: uuid.New()}
	if mutate != nil {
		mutate(business)
	}
	require.NoError(f.t, f.db.Create(business).Error)
	return business
}

func (f *fixture) item(businessID uuid.UUID, kind enums.ItemKind, stock int) uuid.UUID {
	f.t.Helper()
	item := models.CatalogItem{ID: uuid.New(), BusinessID: businessID, Kind: kind, Name: "item-" + string(kind), Stock: stock}
	require.NoError(f.t, f.db.Create(&item).Error)
	return item.ID
}

type line struct {
	itemID uuid.UUID
	kind   enums.ItemKind
	qty    int
	price  int64
}

func (f *fixture) order(business *models.Business, userID uuid.UUID, pointsUsed int64, lines ...line) *models.Order {
	f.t.Helper()
	order := &models.Order{
		UserID:     userID,
		BusinessID: business.ID,
		Status:     enums.OrderStatusAwaitingPayment,
		Currency:   "eur",
		PointsUsed: pointsUsed,
	}
	for _, l := range lines {
		order.TotalCents += int64(l.qty) * l.price
		order.Items = append(order.Items, models.OrderLineItem{ItemID: l.itemID, ItemKind: l.kind, Name: "line", Quantity: l.qty, UnitPriceCents: l.price})
	}
	require.NoError(f.t, f.orders.Create(context.Background(), order))
	return order
}

func (f *fixture) stock(itemID uuid.UUID) int {
	f.t.Helper()
	var item models.CatalogItem
	require.NoError(f.t, f.db.First(&item, "id = ?", itemID).Error)
	return item.Stock
}

func (f *fixture) reload(orderID uuid.UUID) *models.Order {
	f.t.Helper()
	order, err := f.orders.FindByID(context.Background(), orderID)
	require.NoError(f.t, err)
	return order
}

func (f *fixture) events(orderID uuid.UUID, eventType enums.OutboxEventType) int {
	f.t.Helper()
	rows, err := f.outbox.ListForAggregate(context.Background(), orderID)
	require.NoError(f.t, err)
	count := 0
	for _, row := range rows {
		if row.EventType == eventType {
			count++
		}
	}
	return count
}

func (f *fixture) ledgerEntries(userID uuid.UUID, kind enums.PointsTransactionKind) int64 {
	f.t.Helper()
	var count int64
	require.NoError(f.t, f.db.Model(&models.PointsTransaction{}).Where("user_id = ? AND kind = ?", userID, kind).Count(&count).Error)
	return count
}

func notification(order *models.Order, correlationID string) PaymentNotification {
	return PaymentNotification{
		Provider:      enums.PaymentProviderStripe,
		CorrelationID: correlationID,
		OrderID:       order.ID,
		BusinessID:    order.BusinessID,
		AmountCents:   order.TotalCents,
		Currency:      "EUR",
	}
}

// seedTurnover places the business in the growth tier (5000.00 in the window).
func (f *fixture) seedTurnover(businessID uuid.UUID, cents int64) {
	f.t.Helper()
	require.NoError(f.t, f.db.Create(&models.Order{
		UserID:     uuid.New(),
		BusinessID: businessID,
		Status:     enums.OrderStatusCompleted,
		Currency:   "eur",
		TotalCents: cents,
		CreatedAt:  time.Now().UTC().Add(-72 * time.Hour),
	}).Error)
}

func TestFinalizeSettlesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	f.seedTurnover(business.ID, 500_000)
	shopper := uuid.New()
	bystander := uuid.New()

	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	tuneUp := f.item(business.ID, enums.ItemKindService, 3)
	order := f.order(business, shopper, 0,
		line{itemID: bread, kind: enums.ItemKindProduct, qty: 2, price: 2_500},
		line{itemID: tuneUp, kind: enums.ItemKindService, qty: 1, price: 5_000},
	)
	require.NoError(t, f.carts.Add(ctx, &models.CartItem{UserID: shopper, ItemID: bread, ItemKind: enums.ItemKindProduct, Quantity: 2}))
	require.NoError(t, f.carts.Add(ctx, &models.CartItem{UserID: shopper, ItemID: tuneUp, ItemKind: enums.ItemKindService, Quantity: 1}))
	require.NoError(t, f.carts.Add(ctx, &models.CartItem{UserID: bystander, ItemID: bread, ItemKind: enums.ItemKindProduct, Quantity: 1}))

	result, err := f.orch.Finalize(ctx, notification(order, "pi_settle_1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, result.Outcome)
	require.Equal(t, commission.SourceTier, result.RateSource)
	require.Equal(t, int64(800), result.CommissionCents)
	require.Equal(t, int64(9_200), result.BusinessAmountCents)
	require.Equal(t, int64(100), result.PointsEarned)
	require.Empty(t, result.Shortages)

	stored := f.reload(order.ID)
	require.Equal(t, enums.OrderStatusProcessing, stored.Status)
	require.True(t, stored.IsSettledWith("pi_settle_1"))
	require.Equal(t, stored.TotalCents, *stored.PlatformCommissionCents+*stored.BusinessAmountCents)
	require.Equal(t, int64(100), stored.PointsEarned)
	require.Nil(t, stored.InternalNotes)

	require.Equal(t, 8, f.stock(bread))
	require.Equal(t, 2, f.stock(tuneUp))

	remaining, err := f.carts.CountForUser(ctx, shopper)
	require.NoError(t, err)
	require.Zero(t, remaining)
	remaining, err = f.carts.CountForUser(ctx, bystander)
	require.NoError(t, err)
	require.Equal(t, int64(1), remaining)

	account, err := f.ledger.Balance(ctx, shopper)
	require.NoError(t, err)
	require.Equal(t, int64(100), account.Balance)

	require.Equal(t, 1, f.events(order.ID, enums.EventOrderSettled))
}

// failingTurnover writes through the settlement transaction and then fails,
// the way a statement error leaves a Postgres transaction unusable.
type failingTurnover struct{}

func (failingTurnover) TurnoverCents(ctx context.Context, db *gorm.DB, businessID uuid.UUID, _ time.Time) (int64, error) {
	if err := db.WithContext(ctx).Model(&models.Business{}).Where("id = ?", businessID).Update("name", "half-written").Error; err != nil {
		return 0, err
	}
	return 0, errors.New("canceling statement due to statement timeout")
}

func TestFinalizeSettlesAtDefaultRateWhenTurnoverReadFails(t *testing.T) {
	f := newFixtureWithTurnover(t, failingTurnover{})
	ctx := context.Background()
	business := f.business(nil)
	bread := f.item(business.ID, enums.ItemKindProduct, 5)
	order := f.order(business, uuid.New(), 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 10_000})

	result, err := f.orch.Finalize(ctx, notification(order, "pi_turnover_down"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, result.Outcome)
	require.Equal(t, commission.SourceDefault, result.RateSource)
	require.Equal(t, int64(1_000), result.CommissionCents)

	require.Equal(t, enums.OrderStatusProcessing, f.reload(order.ID).Status)
	require.Equal(t, 4, f.stock(bread))

	var stored models.Business
	require.NoError(t, f.db.First(&stored, "id = ?", business.ID).Error)
	require.Equal(t, "Corner Bakery", stored.Name)
}

func TestFinalizeTwiceAppliesSideEffectsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	shopper := uuid.New()
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	order := f.order(business, shopper, 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 4, price: 1_000})

	first, err := f.orch.Finalize(ctx, notification(order, "pi_dup"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, first.Outcome)

	second, err := f.orch.Finalize(ctx, notification(order, "pi_dup"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, second.Outcome)

	require.Equal(t, 6, f.stock(bread))
	require.Equal(t, int64(1), f.ledgerEntries(shopper, enums.PointsEarned))
	require.Equal(t, 1, f.events(order.ID, enums.EventOrderSettled))
}

func TestFinalizeConcurrentDeliveriesSettleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	shopper := uuid.New()
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	order := f.order(business, shopper, 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 10_000})

	const deliveries = 8
	outcomes := make(chan Outcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.orch.Finalize(ctx, notification(order, "pi_race"))
			if err != nil {
				t.Errorf("finalize: %v", err)
				return
			}
			outcomes <- result.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for outcome := range outcomes {
		counts[outcome]++
	}
	require.Equal(t, 1, counts[OutcomeSettled])
	require.Equal(t, deliveries-1, counts[OutcomeDuplicate])

	require.Equal(t, enums.OrderStatusProcessing, f.reload(order.ID).Status)
	require.Equal(t, 9, f.stock(bread))
	require.Equal(t, int64(1), f.ledgerEntries(shopper, enums.PointsEarned))

	account, err := f.ledger.Balance(ctx, shopper)
	require.NoError(t, err)
	require.Equal(t, int64(100), account.Balance)
}

func TestFinalizeSkipsRedemptionOnInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	shopper := uuid.New()
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	_, err := f.ledger.Earn(ctx, f.db, shopper, nil, 30)
	require.NoError(t, err)
	order := f.order(business, shopper, 50, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 10_000})

	result, err := f.orch.Finalize(ctx, notification(order, "pi_points"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, result.Outcome)
	require.True(t, result.RedemptionSkipped)
	require.Zero(t, result.PointsRedeemed)

	stored := f.reload(order.ID)
	require.Equal(t, enums.OrderStatusProcessing, stored.Status)
	require.Contains(t, *stored.InternalNotes, "points redemption of 50 skipped")

	account, err := f.ledger.Balance(ctx, shopper)
	require.NoError(t, err)
	require.Equal(t, int64(130), account.Balance)
	require.Zero(t, f.ledgerEntries(shopper, enums.PointsRedeemed))

	rec, err := f.ledger.Verify(ctx, shopper)
	require.NoError(t, err)
	require.True(t, rec.Consistent())
}

func TestFinalizeRedeemsPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	shopper := uuid.New()
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	_, err := f.ledger.Earn(ctx, f.db, shopper, nil, 80)
	require.NoError(t, err)
	order := f.order(business, shopper, 50, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 10_000})

	result, err := f.orch.Finalize(ctx, notification(order, "pi_redeem"))
	require.NoError(t, err)
	require.Equal(t, int64(50), result.PointsRedeemed)

	account, err := f.ledger.Balance(ctx, shopper)
	require.NoError(t, err)
	require.Equal(t, int64(80-50+100), account.Balance)
	require.Equal(t, int64(50), account.TotalRedeemed)
}

func TestFinalizeClampsOversoldStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	shopper := uuid.New()
	scarce := f.item(business.ID, enums.ItemKindProduct, 1)
	plenty := f.item(business.ID, enums.ItemKindProduct, 5)
	order := f.order(business, shopper, 0,
		line{itemID: scarce, kind: enums.ItemKindProduct, qty: 3, price: 1_000},
		line{itemID: plenty, kind: enums.ItemKindProduct, qty: 2, price: 1_000},
	)

	result, err := f.orch.Finalize(ctx, notification(order, "pi_oversold"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, result.Outcome)
	require.Len(t, result.Shortages, 1)
	require.Equal(t, 1, result.Shortages[0].Available)

	require.Zero(t, f.stock(scarce))
	require.Equal(t, 3, f.stock(plenty))

	stored := f.reload(order.ID)
	require.Equal(t, enums.OrderStatusProcessing, stored.Status)
	require.Contains(t, *stored.InternalNotes, "stock shortage")
}

func TestFinalizeMissingOrderIsUnrecoverable(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Finalize(context.Background(), PaymentNotification{
		Provider:      enums.PaymentProviderStripe,
		CorrelationID: "pi_orphan",
		OrderID:       uuid.New(),
		AmountCents:   1_000,
	})
	require.True(t, errors.Is(err, ErrOrderNotFound))
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestFinalizeRejectsMalformedNotification(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Finalize(context.Background(), PaymentNotification{Provider: enums.PaymentProviderStripe, OrderID: uuid.New()})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestFinalizeAfterCancellationOnlyAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	shopper := uuid.New()
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	order := f.order(business, shopper, 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 10_000})

	failed, err := f.orch.MarkPaymentFailed(ctx, PaymentFailure{Provider: enums.PaymentProviderStripe, OrderID: order.ID, Reason: "card_declined"})
	require.NoError(t, err)
	require.Equal(t, OutcomeCancelled, failed.Outcome)

	result, err := f.orch.Finalize(ctx, notification(order, "pi_late"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAuditOnly, result.Outcome)

	stored := f.reload(order.ID)
	require.Equal(t, enums.OrderStatusCancelled, stored.Status)
	require.True(t, stored.IsSettledWith("pi_late"))
	require.NotNil(t, stored.PlatformCommissionCents)
	require.Contains(t, *stored.InternalNotes, "no side effects applied")
	require.Equal(t, 10, f.stock(bread))
	require.Zero(t, f.ledgerEntries(shopper, enums.PointsEarned))
	require.Equal(t, 1, f.events(order.ID, enums.EventOrderSettlementAudit))

	again, err := f.orch.Finalize(ctx, notification(order, "pi_late"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, again.Outcome)
}

func TestFinalizeWithNewCorrelationAfterSettlementKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	shopper := uuid.New()
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	order := f.order(business, shopper, 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 10_000})

	_, err := f.orch.Finalize(ctx, notification(order, "pi_first"))
	require.NoError(t, err)

	result, err := f.orch.Finalize(ctx, notification(order, "pi_second"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAuditOnly, result.Outcome)

	stored := f.reload(order.ID)
	require.True(t, stored.IsSettledWith("pi_first"))
	require.Equal(t, 9, f.stock(bread))
	require.Equal(t, int64(1), f.ledgerEntries(shopper, enums.PointsEarned))
}

func TestFinalizeRejectsCorrelationOfAnotherOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	first := f.order(business, uuid.New(), 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 1_000})
	second := f.order(business, uuid.New(), 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 1_000})

	_, err := f.orch.Finalize(ctx, notification(first, "pi_shared"))
	require.NoError(t, err)

	_, err = f.orch.Finalize(ctx, notification(second, "pi_shared"))
	require.True(t, errors.Is(err, ErrCorrelationConflict))
	require.Equal(t, enums.OrderStatusAwaitingPayment, f.reload(second.ID).Status)
	require.Equal(t, 9, f.stock(bread))
}

func TestFinalizeTrialBusinessPaysNoCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trialEnds := time.Now().UTC().Add(7 * 24 * time.Hour)
	business := f.business(func(b *models.Business) {
		b.TrialEndsAt = &trialEnds
		b.CommissionRateOverride = decimal.NewNullDecimal(decimal.RequireFromString("0.05"))
	})
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	order := f.order(business, uuid.New(), 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 10_000})

	result, err := f.orch.Finalize(ctx, notification(order, "pi_trial"))
	require.NoError(t, err)
	require.Equal(t, commission.SourceTrial, result.RateSource)
	require.Zero(t, result.CommissionCents)
	require.Equal(t, int64(10_000), result.BusinessAmountCents)
}

func TestFinalizeNotesAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(func(b *models.Business) {
		b.CommissionRateOverride = decimal.NewNullDecimal(decimal.RequireFromString("0.08"))
	})
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	order := f.order(business, uuid.New(), 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 10_000})

	n := notification(order, "pi_partial")
	n.AmountCents = 9_000
	result, err := f.orch.Finalize(ctx, n)
	require.NoError(t, err)
	require.Equal(t, int64(720), result.CommissionCents)
	require.Equal(t, int64(8_280), result.BusinessAmountCents)
	require.True(t, strings.Contains(*f.reload(order.ID).InternalNotes, "differs from order total"))
}

func TestMarkPaymentFailedCancelsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	shopper := uuid.New()
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	_, err := f.ledger.Earn(ctx, f.db, shopper, nil, 60)
	require.NoError(t, err)
	order := f.order(business, shopper, 50, line{itemID: bread, kind: enums.ItemKindProduct, qty: 2, price: 1_000})

	result, err := f.orch.MarkPaymentFailed(ctx, PaymentFailure{
		Provider:  enums.PaymentProviderStripe,
		OrderID:   order.ID,
		Reference: "pi_declined",
		Reason:    "Your card was declined.",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeCancelled, result.Outcome)

	stored := f.reload(order.ID)
	require.Equal(t, enums.OrderStatusCancelled, stored.Status)
	require.Equal(t, "Your card was declined.", *stored.FailureReason)
	require.NotNil(t, stored.CancelledAt)
	require.Equal(t, 10, f.stock(bread))

	account, err := f.ledger.Balance(ctx, shopper)
	require.NoError(t, err)
	require.Equal(t, int64(60), account.Balance)
	require.Equal(t, 1, f.events(order.ID, enums.EventOrderPaymentFailed))

	again, err := f.orch.MarkPaymentFailed(ctx, PaymentFailure{Provider: enums.PaymentProviderStripe, OrderID: order.ID})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, again.Outcome)
	require.Equal(t, 1, f.events(order.ID, enums.EventOrderPaymentFailed))
}

func TestMarkPaymentFailedLeavesSettledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	business := f.business(nil)
	bread := f.item(business.ID, enums.ItemKindProduct, 10)
	order := f.order(business, uuid.New(), 0, line{itemID: bread, kind: enums.ItemKindProduct, qty: 1, price: 1_000})

	_, err := f.orch.Finalize(ctx, notification(order, "pi_ok"))
	require.NoError(t, err)

	result, err := f.orch.MarkPaymentFailed(ctx, PaymentFailure{Provider: enums.PaymentProviderStripe, OrderID: order.ID, Reason: "late failure"})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, result.Outcome)
	require.Equal(t, enums.OrderStatusProcessing, f.reload(order.ID).Status)

	_, err = f.orch.MarkPaymentFailed(ctx, PaymentFailure{Provider: enums.PaymentProviderStripe, OrderID: uuid.New()})
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestNormalizeReason(t *testing.T) {
	require.Equal(t, defaultFailureReason, normalizeReason("   "))
	require.Len(t, normalizeReason(strings.Repeat("x", 900)), maxFailureReasonLen)

	accented := normalizeReason("x" + strings.Repeat("é", 300))
	require.True(t, utf8.ValidString(accented))
	require.Len(t, accented, maxFailureReasonLen-1)
}
