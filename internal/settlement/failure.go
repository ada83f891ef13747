package settlement

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/internal/orders"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox/payloads"
)

const (
	defaultFailureReason = "payment_failed"
	maxFailureReasonLen  = 500
)

// MarkPaymentFailed cancels an order still awaiting payment. Stock and points
// are never touched; orders in any other status are left as they are.
func (o *Orchestrator) MarkPaymentFailed(ctx context.Context, f PaymentFailure) (Result, error) {
	ctx = o.logg.WithOrderID(ctx, f.OrderID.String())
	ctx = o.logg.WithField(ctx, "provider", string(f.Provider))

	if !f.Provider.IsValid() {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "payment provider is required")
	}
	reason := normalizeReason(f.Reason)

	var result Result
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := o.orders.WithTx(tx)
		order, err := orderRepo.FindForUpdate(ctx, f.OrderID)
		if err != nil {
			if orders.IsNotFound(err) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		result = Result{OrderID: order.ID, Status: order.Status, Outcome: OutcomeIgnored}
		if order.Status != enums.OrderStatusAwaitingPayment {
			return nil
		}

		failedAt := o.now().UTC()
		cancelled, err := orderRepo.MarkCancelled(ctx, order.ID, reason, failedAt)
		if err != nil {
			return err
		}
		if !cancelled {
			return nil
		}

		if f.Reference != "" {
			note := fmt.Sprintf("%s payment %s failed: %s", f.Provider, f.Reference, reason)
			if err := orderRepo.AppendNote(ctx, order.ID, note); err != nil {
				return err
			}
		}
		if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         f.Actor,
			OccurredAt:    failedAt,
			Data: payloads.OrderPaymentFailedEvent{
				OrderID:    order.ID,
				UserID:     order.UserID,
				BusinessID: order.BusinessID,
				Provider:   f.Provider,
				Reason:     reason,
				FailedAt:   failedAt,
			},
		}); err != nil {
			return err
		}

		result.Outcome = OutcomeCancelled
		result.Status = enums.OrderStatusCancelled
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return result, err
		}
		o.logg.Error(ctx, "payment failure transaction rolled back", err)
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment failure transaction failed")
	}

	logCtx := o.logg.WithFields(ctx, map[string]any{"outcome": string(result.Outcome), "status": string(result.Status)})
	o.logg.Info(logCtx, "payment failure handled")
	return result, nil
}

func normalizeReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return defaultFailureReason
	}
	return models.Truncate(reason, maxFailureReasonLen)
}
