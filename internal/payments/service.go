package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/internal/commission"
	"github.com/angelmondragon/localcommerce-settlement/internal/orders"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

// CheckoutRequest starts a payment for an order.
type CheckoutRequest struct {
	OrderID  uuid.UUID
	Provider enums.PaymentProvider
	SourceID string
}

// Checkout is what the client needs to complete the payment.
type Checkout struct {
	OrderID         uuid.UUID
	Provider        enums.PaymentProvider
	Reference       string
	ClientSecret    string
	AmountCents     int64
	CommissionCents int64
	CommissionRate  decimal.Decimal
	Currency        string
}

type ServiceParams struct {
	DB         *gorm.DB
	Orders     orders.Repository
	Businesses *businesses.Repository
	Resolver   *commission.Resolver
	Gateways   Registry
	Logger     *logger.Logger
}

// Service creates processor payments for unpaid orders.
type Service struct {
	db         *gorm.DB
	orders     orders.Repository
	businesses *businesses.Repository
	resolver   *commission.Resolver
	gateways   Registry
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db required")
	case params.Orders == nil:
		return nil, errors.New("orders repository required")
	case params.Businesses == nil:
		return nil, errors.New("businesses repository required")
	case params.Resolver == nil:
		return nil, errors.New("commission resolver required")
	case len(params.Gateways) == 0:
		return nil, errors.New("at least one payment gateway required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	return &Service{
		db:         params.DB,
		orders:     params.Orders,
		businesses: params.Businesses,
		resolver:   params.Resolver,
		gateways:   params.Gateways,
		logg:       params.Logger,
	}, nil
}

// StartCheckout quotes the commission and creates the processor payment for
// an order awaiting payment. Retries reuse the processor idempotency key, so
// the same payment comes back.
func (s *Service) StartCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	ctx = s.logg.WithOrderID(ctx, req.OrderID.String())
	provider := req.Provider
	if provider == "" {
		provider = enums.PaymentProviderStripe
	}
	gateway, ok := s.gateways.Get(provider)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment provider %q not enabled", provider))
	}

	order, err := s.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		if orders.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status != enums.OrderStatusAwaitingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", order.Status))
	}

	account, err := s.businesses.FindPaymentAccount(ctx, order.BusinessID, provider)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment account")
	}
	if !account.CanReceivePayments() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "business cannot accept payments with this provider")
	}

	business, err := s.businesses.FindByID(ctx, order.BusinessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "business not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load business")
	}

	quote := s.resolver.Resolve(ctx, s.db, business)
	split := commission.SplitAmount(order.TotalCents, quote.Rate)

	payment, err := gateway.CreatePayment(ctx, Charge{
		OrderID:             order.ID,
		BusinessID:          order.BusinessID,
		AmountCents:         order.TotalCents,
		ApplicationFeeCents: split.CommissionCents,
		Currency:            order.Currency,
		Destination:         account.ExternalAccountID,
		SourceID:            req.SourceID,
		IdempotencyKey:      "order-" + order.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.orders.SetPaymentReference(ctx, order.ID, provider, payment.Reference); err != nil {
		if orders.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order left awaiting_payment during checkout")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment reference")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"provider":          string(provider),
		"payment_reference": payment.Reference,
		"commission_cents":  split.CommissionCents,
		"commission_source": string(quote.Source),
	}), "checkout started")

	return &Checkout{
		OrderID:         order.ID,
		Provider:        provider,
		Reference:       payment.Reference,
		ClientSecret:    payment.ClientSecret,
		AmountCents:     order.TotalCents,
		CommissionCents: split.CommissionCents,
		CommissionRate:  quote.Rate,
		Currency:        order.Currency,
	}, nil
}

// SyncAccount refreshes a linked account's capability flags from the processor.
func (s *Service) SyncAccount(ctx context.Context, provider enums.PaymentProvider, externalAccountID string) (businesses.Capabilities, error) {
	gateway, ok := s.gateways.Get(provider)
	if !ok {
		return businesses.Capabilities{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment provider %q not enabled", provider))
	}
	caps, err := gateway.AccountCapabilities(ctx, externalAccountID)
	if err != nil {
		return businesses.Capabilities{}, err
	}
	found, err := s.businesses.UpdateCapabilities(ctx, provider, externalAccountID, caps)
	if err != nil {
		return businesses.Capabilities{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment account")
	}
	if !found {
		return businesses.Capabilities{}, pkgerrors.New(pkgerrors.CodeNotFound, "payment account not linked")
	}
	return caps, nil
}
