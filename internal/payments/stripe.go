package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
)

// Metadata keys written on payment intents and read back by the webhook.
const (
	MetadataOrderID    = "order_id"
	MetadataBusinessID = "business_id"
)

// StripeAPI exposes the subset of Stripe operations the gateway needs. It is
// satisfied by *stripe.Client from pkg/stripe.
type StripeAPI interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	GetAccount(ctx context.Context, id string) (*stripe.Account, error)
}

// StripeGateway charges through destination payment intents on the
// business's connected account.
type StripeGateway struct {
	api StripeAPI
}

func NewStripeGateway(api StripeAPI) (*StripeGateway, error) {
	if api == nil {
		return nil, errors.New("stripe api required")
	}
	return &StripeGateway{api: api}, nil
}

func (g *StripeGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

func (g *StripeGateway) CreatePayment(ctx context.Context, charge Charge) (*Payment, error) {
	if strings.TrimSpace(charge.Destination) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe destination account required")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(charge.AmountCents),
		Currency: stripe.String(strings.ToLower(charge.Currency)),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(charge.Destination),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if charge.ApplicationFeeCents > 0 {
		params.ApplicationFeeAmount = stripe.Int64(charge.ApplicationFeeCents)
	}
	params.AddMetadata(MetadataOrderID, charge.OrderID.String())
	params.AddMetadata(MetadataBusinessID, charge.BusinessID.String())
	if charge.IdempotencyKey != "" {
		params.SetIdempotencyKey(charge.IdempotencyKey)
	}

	intent, err := g.api.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, mapStripeError(err, "create payment intent")
	}
	return stripePayment(intent), nil
}

func (g *StripeGateway) PaymentStatus(ctx context.Context, reference string) (*Payment, error) {
	intent, err := g.api.GetPaymentIntent(ctx, reference)
	if err != nil {
		return nil, mapStripeError(err, "fetch payment intent")
	}
	return stripePayment(intent), nil
}

func (g *StripeGateway) AccountCapabilities(ctx context.Context, externalAccountID string) (businesses.Capabilities, error) {
	acct, err := g.api.GetAccount(ctx, externalAccountID)
	if err != nil {
		return businesses.Capabilities{}, mapStripeError(err, "fetch account")
	}
	return StripeCapabilities(acct), nil
}

// StripeCapabilities extracts the capability flags of a connected account.
func StripeCapabilities(acct *stripe.Account) businesses.Capabilities {
	if acct == nil {
		return businesses.Capabilities{}
	}
	return businesses.Capabilities{
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
}

// StripeState maps a payment intent onto the settlement view of it.
func StripeState(intent *stripe.PaymentIntent) State {
	if intent == nil {
		return StatePending
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StateSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StateFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			return StateFailed
		}
	}
	return StatePending
}

func stripePayment(intent *stripe.PaymentIntent) *Payment {
	payment := &Payment{
		Provider:     enums.PaymentProviderStripe,
		Reference:    intent.ID,
		State:        StripeState(intent),
		AmountCents:  intent.Amount,
		Currency:     string(intent.Currency),
		ClientSecret: intent.ClientSecret,
	}
	if intent.AmountReceived > 0 {
		payment.AmountCents = intent.AmountReceived
	}
	if intent.LastPaymentError != nil {
		payment.FailureReason = intent.LastPaymentError.Msg
	}
	if intent.Status == stripe.PaymentIntentStatusCanceled && payment.FailureReason == "" {
		payment.FailureReason = fmt.Sprintf("payment intent canceled: %s", intent.CancellationReason)
	}
	payment.OrderID, _ = uuid.Parse(intent.Metadata[MetadataOrderID])
	payment.BusinessID, _ = uuid.Parse(intent.Metadata[MetadataBusinessID])
	return payment
}

func mapStripeError(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == 404:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("stripe %s failed", op))
		case stripeErr.Type == stripe.ErrorTypeCard, stripeErr.Type == stripe.ErrorTypeInvalidRequest:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("stripe %s failed", op))
		case stripeErr.Type == stripe.ErrorTypeIdempotency:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, fmt.Sprintf("stripe %s failed", op))
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}
