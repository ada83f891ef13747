package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// CatalogItem is a product or service with a stock counter. Stock is never negative.
type CatalogItem struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID uuid.UUID      `gorm:"column:business_id;type:uuid;not null"`
	Kind       enums.ItemKind `gorm:"column:kind;type:text;not null"`
	Name       string         `gorm:"column:name;not null"`
	Stock      int            `gorm:"column:stock;not null;default:0"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
