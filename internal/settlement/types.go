package settlement

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/localcommerce-settlement/internal/commission"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
)

var (
	// ErrOrderNotFound is unrecoverable: the notification is acknowledged and dropped.
	ErrOrderNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	// ErrCorrelationConflict means the correlation id already settled a different order.
	ErrCorrelationConflict = pkgerrors.New(pkgerrors.CodeConflict, "payment correlation id already settled another order")
)

// PaymentNotification is a processor's claim that a payment for an order succeeded.
type PaymentNotification struct {
	Provider      enums.PaymentProvider
	CorrelationID string
	OrderID       uuid.UUID
	BusinessID    uuid.UUID
	AmountCents   int64
	Currency      string
	Actor         *outbox.ActorRef
}

func (n PaymentNotification) validate() error {
	switch {
	case !n.Provider.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "payment provider is required")
	case strings.TrimSpace(n.CorrelationID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "payment correlation id is required")
	case n.OrderID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	case n.AmountCents < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	return nil
}

// PaymentFailure reports a declined or cancelled payment for an order.
type PaymentFailure struct {
	Provider  enums.PaymentProvider
	OrderID   uuid.UUID
	Reference string
	Reason    string
	Actor     *outbox.ActorRef
}

// Outcome describes what a settlement call did.
type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeAuditOnly      Outcome = "audit_only"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeIgnored        Outcome = "ignored"
)

// Shortage is a line item whose stock could not cover the ordered quantity.
type Shortage struct {
	ItemID    uuid.UUID
	Name      string
	Requested int
	Available int
	Missing   bool
}

// Result summarizes a settlement call.
type Result struct {
	Outcome             Outcome
	OrderID             uuid.UUID
	Status              enums.OrderStatus
	Rate                decimal.Decimal
	RateSource          commission.Source
	CommissionCents     int64
	BusinessAmountCents int64
	PointsRedeemed      int64
	RedemptionSkipped   bool
	PointsEarned        int64
	Shortages           []Shortage
}
