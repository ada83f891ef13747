package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/api/responses"
	"github.com/angelmondragon/localcommerce-settlement/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

type OrderReconciler interface {
	ReconcileOrder(ctx context.Context, orderID uuid.UUID) (reconciliation.Outcome, error)
}

type reconcileResponse struct {
	OrderID      uuid.UUID `json:"order_id"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	PaymentState string    `json:"payment_state,omitempty"`
}

// AdminReconcileOrder re-checks an order with its processor and settles or
// cancels it when the webhook was missed.
func AdminReconcileOrder(svc OrderReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out, err := svc.ReconcileOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reconcileResponse{
			OrderID:      out.OrderID,
			Action:       string(out.Action),
			Status:       string(out.Status),
			PaymentState: string(out.PaymentState),
		})
	}
}
