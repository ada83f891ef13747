package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Business is an independent seller on the marketplace.
type Business struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                   string              `gorm:"column:name;not null"`
	OwnerUserID            uuid.UUID           `gorm:"column:owner_user_id;type:uuid;not null"`
	CommissionRateOverride decimal.NullDecimal `gorm:"column:commission_rate_override;type:numeric(6,4)"`
	TrialEndsAt            *time.Time          `gorm:"column:trial_ends_at"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Business) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
