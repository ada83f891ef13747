package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/api/responses"
	"github.com/angelmondragon/localcommerce-settlement/api/validators"
	"github.com/angelmondragon/localcommerce-settlement/internal/payments"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

type CheckoutStarter interface {
	StartCheckout(ctx context.Context, req payments.CheckoutRequest) (*payments.Checkout, error)
}

type startPaymentRequest struct {
	Provider string `json:"provider" validate:"omitempty,max=32"`
	SourceID string `json:"source_id" validate:"omitempty,max=255"`
}

type startPaymentResponse struct {
	OrderID         uuid.UUID `json:"order_id"`
	Provider        string    `json:"provider"`
	Reference       string    `json:"reference"`
	ClientSecret    string    `json:"client_secret,omitempty"`
	AmountCents     int64     `json:"amount_cents"`
	CommissionCents int64     `json:"commission_cents"`
	CommissionRate  string    `json:"commission_rate"`
	Currency        string    `json:"currency"`
}

// StartPayment opens a processor payment for an order awaiting payment. The
// order is settled later from the processor webhook.
func StartPayment(svc CheckoutStarter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body startPaymentRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(w, r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		req := payments.CheckoutRequest{OrderID: orderID, SourceID: validators.SanitizeString(body.SourceID, 255)}
		if body.Provider != "" {
			provider, err := enums.ParsePaymentProvider(body.Provider)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
				return
			}
			req.Provider = provider
		}

		checkout, err := svc.StartCheckout(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, startPaymentResponse{
			OrderID:         checkout.OrderID,
			Provider:        string(checkout.Provider),
			Reference:       checkout.Reference,
			ClientSecret:    checkout.ClientSecret,
			AmountCents:     checkout.AmountCents,
			CommissionCents: checkout.CommissionCents,
			CommissionRate:  checkout.CommissionRate.String(),
			Currency:        checkout.Currency,
		})
	}
}
