package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/localcommerce-settlement/internal/orders"
	"github.com/angelmondragon/localcommerce-settlement/internal/payments"
	"github.com/angelmondragon/localcommerce-settlement/internal/settlement"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
)

// ActorKind tags events emitted by reconciliation.
const ActorKind = "reconciliation"

// Action is what a reconciliation run did to an order.
type Action string

const (
	ActionNone      Action = "none"
	ActionNoPayment Action = "no_payment"
	ActionPending   Action = "pending"
	ActionSettled   Action = "settled"
	ActionCancelled Action = "cancelled"
)

// Outcome reports one reconciled order.
type Outcome struct {
	OrderID      uuid.UUID
	Action       Action
	Status       enums.OrderStatus
	PaymentState payments.State
	Settlement   *settlement.Result
}

type orchestrator interface {
	Finalize(ctx context.Context, n settlement.PaymentNotification) (settlement.Result, error)
	MarkPaymentFailed(ctx context.Context, f settlement.PaymentFailure) (settlement.Result, error)
}

type ServiceParams struct {
	Orders       orders.Repository
	Gateways     payments.Registry
	Orchestrator orchestrator
	Logger       *logger.Logger
	StaleAfter   time.Duration
	MaxAge       time.Duration
	BatchSize    int
	Now          func() time.Time
}

// Service re-queries processors for orders whose webhook never arrived and
// feeds the answer through the same settlement path as a webhook.
type Service struct {
	orders     orders.Repository
	gateways   payments.Registry
	orch       orchestrator
	logg       *logger.Logger
	staleAfter time.Duration
	maxAge     time.Duration
	batchSize  int
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Orders == nil:
		return nil, errors.New("orders repository required")
	case params.Orchestrator == nil:
		return nil, errors.New("settlement orchestrator required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	if params.StaleAfter <= 0 {
		params.StaleAfter = 15 * time.Minute
	}
	if params.MaxAge <= params.StaleAfter {
		params.MaxAge = 72 * time.Hour
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 100
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		orders:     params.Orders,
		gateways:   params.Gateways,
		orch:       params.Orchestrator,
		logg:       params.Logger,
		staleAfter: params.StaleAfter,
		maxAge:     params.MaxAge,
		batchSize:  params.BatchSize,
		now:        params.Now,
	}, nil
}

// ReconcileOrder asks the processor for the payment state of an order still
// awaiting payment and settles or cancels it accordingly.
func (s *Service) ReconcileOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if orders.IsNotFound(err) {
			return Outcome{OrderID: orderID}, settlement.ErrOrderNotFound
		}
		return Outcome{OrderID: orderID}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return s.reconcile(ctx, order)
}

func (s *Service) reconcile(ctx context.Context, order *models.Order) (Outcome, error) {
	out := Outcome{OrderID: order.ID, Status: order.Status, Action: ActionNone}
	if order.Status != enums.OrderStatusAwaitingPayment {
		return out, nil
	}
	if order.PaymentReference == nil || order.PaymentProvider == nil {
		out.Action = ActionNoPayment
		return out, nil
	}

	provider := *order.PaymentProvider
	gateway, ok := s.gateways.Get(provider)
	if !ok {
		return out, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment provider %q not enabled", provider))
	}
	payment, err := gateway.PaymentStatus(ctx, *order.PaymentReference)
	if err != nil {
		return out, err
	}
	out.PaymentState = payment.State
	actor := &outbox.ActorRef{Kind: ActorKind}

	switch payment.State {
	case payments.StateSucceeded:
		result, err := s.orch.Finalize(ctx, settlement.PaymentNotification{
			Provider:      provider,
			CorrelationID: payment.Reference,
			OrderID:       order.ID,
			BusinessID:    order.BusinessID,
			AmountCents:   payment.AmountCents,
			Currency:      payment.Currency,
			Actor:         actor,
		})
		if err != nil {
			return out, err
		}
		out.Action = ActionSettled
		out.Status = result.Status
		out.Settlement = &result
	case payments.StateFailed:
		result, err := s.orch.MarkPaymentFailed(ctx, settlement.PaymentFailure{
			Provider:  provider,
			OrderID:   order.ID,
			Reference: payment.Reference,
			Reason:    payment.FailureReason,
			Actor:     actor,
		})
		if err != nil {
			return out, err
		}
		out.Action = ActionCancelled
		out.Status = result.Status
		out.Settlement = &result
	default:
		out.Action = ActionPending
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"action":        string(out.Action),
		"payment_state": string(out.PaymentState),
		"provider":      string(provider),
	}), "order reconciled")
	return out, nil
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Checked   int
	Settled   int
	Cancelled int
	Pending   int
	Failed    int
}

// Sweep reconciles orders that have been awaiting payment longer than the
// stale threshold but are younger than the max age. Per-order failures are
// collected and do not stop the sweep.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	now := s.now().UTC()
	stale, err := s.orders.ListAwaitingPayment(ctx, now.Add(-s.staleAfter), now.Add(-s.maxAge), s.batchSize)
	if err != nil {
		return SweepReport{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale orders")
	}

	var report SweepReport
	var errs error
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		report.Checked++
		out, err := s.reconcile(ctx, &stale[i])
		if err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", stale[i].ID, err))
			continue
		}
		switch out.Action {
		case ActionSettled:
			report.Settled++
		case ActionCancelled:
			report.Cancelled++
		default:
			report.Pending++
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"checked":   report.Checked,
		"settled":   report.Settled,
		"cancelled": report.Cancelled,
		"pending":   report.Pending,
		"failed":    report.Failed,
	}), "reconciliation sweep finished")
	return report, errs
}
