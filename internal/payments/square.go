package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	pkgsquare "github.com/angelmondragon/localcommerce-settlement/pkg/square"
)

// Square payment statuses.
const (
	SquareStatusApproved  = "APPROVED"
	SquareStatusPending   = "PENDING"
	SquareStatusCompleted = "COMPLETED"
	SquareStatusCanceled  = "CANCELED"
	SquareStatusFailed    = "FAILED"
)

// SquareAPI exposes the Square payment operations the gateway needs.
type SquareAPI interface {
	CreatePayment(ctx context.Context, params pkgsquare.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	LocationID() string
}

// SquareGateway takes card payments at the platform location and keeps the
// commission as the app fee. The order id travels as the reference id.
type SquareGateway struct {
	api SquareAPI
}

func NewSquareGateway(api SquareAPI) (*SquareGateway, error) {
	if api == nil {
		return nil, errors.New("square api required")
	}
	return &SquareGateway{api: api}, nil
}

func (g *SquareGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

func (g *SquareGateway) CreatePayment(ctx context.Context, charge Charge) (*Payment, error) {
	if strings.TrimSpace(charge.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square payment source required")
	}
	payment, err := g.api.CreatePayment(ctx, pkgsquare.PaymentCreateParams{
		AmountCents:    charge.AmountCents,
		AppFeeCents:    charge.ApplicationFeeCents,
		Currency:       charge.Currency,
		LocationID:     g.api.LocationID(),
		SourceID:       charge.SourceID,
		IdempotencyKey: charge.IdempotencyKey,
		ReferenceID:    charge.OrderID.String(),
		Note:           "business " + charge.BusinessID.String(),
	})
	if err != nil {
		return nil, err
	}
	out := SquarePayment(payment)
	out.BusinessID = charge.BusinessID
	return out, nil
}

func (g *SquareGateway) PaymentStatus(ctx context.Context, reference string) (*Payment, error) {
	payment, err := g.api.GetPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	return SquarePayment(payment), nil
}

// AccountCapabilities reports full capabilities: Square sellers are onboarded
// through OAuth and can take payments as soon as the link exists.
func (g *SquareGateway) AccountCapabilities(_ context.Context, externalAccountID string) (businesses.Capabilities, error) {
	if strings.TrimSpace(externalAccountID) == "" {
		return businesses.Capabilities{}, pkgerrors.New(pkgerrors.CodeValidation, "square merchant id required")
	}
	return businesses.Capabilities{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}, nil
}

// SquareState maps a Square payment status onto the settlement view of it.
func SquareState(status string) State {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case SquareStatusCompleted:
		return StateSucceeded
	case SquareStatusCanceled, SquareStatusFailed:
		return StateFailed
	default:
		return StatePending
	}
}

// SquarePayment converts an SDK payment.
func SquarePayment(payment *sq.Payment) *Payment {
	out := &Payment{Provider: enums.PaymentProviderSquare}
	if payment == nil {
		out.State = StatePending
		return out
	}
	status := deref(payment.GetStatus())
	out.Reference = deref(payment.GetID())
	out.State = SquareState(status)
	if money := payment.GetAmountMoney(); money != nil {
		if amount := money.GetAmount(); amount != nil {
			out.AmountCents = *amount
		}
		if currency := money.GetCurrency(); currency != nil {
			out.Currency = strings.ToLower(string(*currency))
		}
	}
	out.OrderID, _ = uuid.Parse(deref(payment.GetReferenceID()))
	if out.State == StateFailed {
		out.FailureReason = "square payment " + strings.ToLower(status)
	}
	return out
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
