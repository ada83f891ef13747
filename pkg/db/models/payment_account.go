package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// PaymentAccount links a business to its payout account at a processor and caches
// the capability flags the processor last reported.
type PaymentAccount struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID        uuid.UUID             `gorm:"column:business_id;type:uuid;not null"`
	Provider          enums.PaymentProvider `gorm:"column:provider;type:text;not null"`
	ExternalAccountID string                `gorm:"column:external_account_id;not null"`
	ChargesEnabled    bool                  `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled    bool                  `gorm:"column:payouts_enabled;not null;default:false"`
	DetailsSubmitted  bool                  `gorm:"column:details_submitted;not null;default:false"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *PaymentAccount) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// CanReceivePayments reports whether the processor allows charges routed to this account.
func (a *PaymentAccount) CanReceivePayments() bool {
	return a != nil && a.ChargesEnabled
}
