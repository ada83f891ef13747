package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// Order is a shopper's purchase from a single business. Totals and line items are
// fixed at creation; settlement only fills in the payment and commission columns.
type Order struct {
	ID                      uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                  uuid.UUID              `gorm:"column:user_id;type:uuid;not null"`
	BusinessID              uuid.UUID              `gorm:"column:business_id;type:uuid;not null"`
	Status                  enums.OrderStatus      `gorm:"column:status;type:text;not null;default:'awaiting_payment'"`
	Currency                string                 `gorm:"column:currency;type:text;not null;default:'eur'"`
	TotalCents              int64                  `gorm:"column:total_cents;not null"`
	PaymentProvider         *enums.PaymentProvider `gorm:"column:payment_provider;type:text"`
	PaymentReference        *string                `gorm:"column:payment_reference"`
	PaymentCorrelationID    *string                `gorm:"column:payment_correlation_id"`
	CheckoutSessionID       *string                `gorm:"column:checkout_session_id"`
	CommissionRate          decimal.NullDecimal    `gorm:"column:commission_rate;type:numeric(6,4)"`
	PlatformCommissionCents *int64                 `gorm:"column:platform_commission_cents"`
	BusinessAmountCents     *int64                 `gorm:"column:business_amount_cents"`
	PointsUsed              int64                  `gorm:"column:points_used;not null;default:0"`
	PointsEarned            int64                  `gorm:"column:points_earned;not null;default:0"`
	FailureReason           *string                `gorm:"column:failure_reason"`
	InternalNotes           *string                `gorm:"column:internal_notes"`
	SettledAt               *time.Time             `gorm:"column:settled_at"`
	CancelledAt             *time.Time             `gorm:"column:cancelled_at"`
	Items                   []OrderLineItem        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt               time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// IsSettledWith reports whether the order already carries correlationID.
func (o *Order) IsSettledWith(correlationID string) bool {
	return o.PaymentCorrelationID != nil && *o.PaymentCorrelationID == correlationID
}
