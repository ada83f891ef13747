package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// OrderLineItem captures the price snapshot of a catalog item at order creation.
type OrderLineItem struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID      `gorm:"column:order_id;type:uuid;not null"`
	ItemID         uuid.UUID      `gorm:"column:item_id;type:uuid;not null"`
	ItemKind       enums.ItemKind `gorm:"column:item_kind;type:text;not null"`
	Name           string         `gorm:"column:name;not null"`
	Quantity       int            `gorm:"column:quantity;not null"`
	UnitPriceCents int64          `gorm:"column:unit_price_cents;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderLineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// LineTotalCents is quantity times the captured unit price.
func (i OrderLineItem) LineTotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}
