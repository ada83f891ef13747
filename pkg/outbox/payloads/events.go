package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// SettledItem is a line item snapshot carried on settlement events.
type SettledItem struct {
	ItemID         uuid.UUID      `json:"item_id"`
	Kind           enums.ItemKind `json:"kind"`
	Name           string         `json:"name"`
	Quantity       int            `json:"quantity"`
	UnitPriceCents int64          `json:"unit_price_cents"`
}

// OrderSettledEvent is emitted in the settlement transaction once an order
// moves to processing.
type OrderSettledEvent struct {
	OrderID             uuid.UUID             `json:"order_id"`
	UserID              uuid.UUID             `json:"user_id"`
	BusinessID          uuid.UUID             `json:"business_id"`
	Provider            enums.PaymentProvider `json:"provider"`
	CorrelationID       string                `json:"correlation_id"`
	Currency            string                `json:"currency"`
	TotalCents          int64                 `json:"total_cents"`
	CommissionRate      string                `json:"commission_rate"`
	CommissionSource    string                `json:"commission_source"`
	CommissionTier      string                `json:"commission_tier,omitempty"`
	ScheduleVersion     string                `json:"schedule_version,omitempty"`
	CommissionCents     int64                 `json:"commission_cents"`
	BusinessAmountCents int64                 `json:"business_amount_cents"`
	PointsRedeemed      int64                 `json:"points_redeemed"`
	PointsEarned        int64                 `json:"points_earned"`
	StockShortages      int                   `json:"stock_shortages"`
	Items               []SettledItem         `json:"items"`
	SettledAt           time.Time             `json:"settled_at"`
}

// OrderSettlementAuditedEvent records a payment that arrived for an order no
// longer awaiting payment.
type OrderSettlementAuditedEvent struct {
	OrderID       uuid.UUID             `json:"order_id"`
	BusinessID    uuid.UUID             `json:"business_id"`
	Provider      enums.PaymentProvider `json:"provider"`
	CorrelationID string                `json:"correlation_id"`
	OrderStatus   enums.OrderStatus     `json:"order_status"`
	AmountCents   int64                 `json:"amount_cents"`
}

// OrderPaymentFailedEvent is emitted when a failed payment cancels an order.
type OrderPaymentFailedEvent struct {
	OrderID    uuid.UUID             `json:"order_id"`
	UserID     uuid.UUID             `json:"user_id"`
	BusinessID uuid.UUID             `json:"business_id"`
	Provider   enums.PaymentProvider `json:"provider"`
	Reason     string                `json:"reason"`
	FailedAt   time.Time             `json:"failed_at"`
}

// PaymentAccountUpdatedEvent mirrors a processor capability change.
type PaymentAccountUpdatedEvent struct {
	Provider          enums.PaymentProvider `json:"provider"`
	ExternalAccountID string                `json:"external_account_id"`
	ChargesEnabled    bool                  `json:"charges_enabled"`
	PayoutsEnabled    bool                  `json:"payouts_enabled"`
	DetailsSubmitted  bool                  `json:"details_submitted"`
}
