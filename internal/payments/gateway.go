package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// State is the processor-side state of a payment, collapsed to what
// settlement cares about.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Charge is a payment request for one order. ApplicationFeeCents is the
// platform commission withheld before the remainder reaches Destination.
type Charge struct {
	OrderID             uuid.UUID
	BusinessID          uuid.UUID
	AmountCents         int64
	ApplicationFeeCents int64
	Currency            string
	Destination         string
	SourceID            string
	IdempotencyKey      string
}

// Payment is the processor's view of a charge.
type Payment struct {
	Provider      enums.PaymentProvider
	Reference     string
	State         State
	AmountCents   int64
	Currency      string
	ClientSecret  string
	FailureReason string
	OrderID       uuid.UUID
	BusinessID    uuid.UUID
}

// Gateway is a payment processor.
type Gateway interface {
	Provider() enums.PaymentProvider
	CreatePayment(ctx context.Context, charge Charge) (*Payment, error)
	PaymentStatus(ctx context.Context, reference string) (*Payment, error)
	AccountCapabilities(ctx context.Context, externalAccountID string) (businesses.Capabilities, error)
}

// Registry resolves gateways by provider.
type Registry map[enums.PaymentProvider]Gateway

// NewRegistry indexes the non-nil gateways by their provider.
func NewRegistry(gateways ...Gateway) Registry {
	reg := Registry{}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		reg[gw.Provider()] = gw
	}
	return reg
}

// Get returns the gateway for provider, if registered.
func (r Registry) Get(provider enums.PaymentProvider) (Gateway, bool) {
	gw, ok := r[provider]
	return gw, ok
}
