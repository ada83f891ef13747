package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// PointsAccount is the cached balance of a user's loyalty points. The ledger in
// points_transactions is the system of record.
type PointsAccount struct {
	UserID        uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Balance       int64     `gorm:"column:balance;not null;default:0"`
	TotalEarned   int64     `gorm:"column:total_earned;not null;default:0"`
	TotalRedeemed int64     `gorm:"column:total_redeemed;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// PointsTransaction is an append-only ledger entry. Rows are never updated or deleted.
type PointsTransaction struct {
	ID        uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID                   `gorm:"column:user_id;type:uuid;not null"`
	OrderID   *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	Kind      enums.PointsTransactionKind `gorm:"column:kind;type:text;not null"`
	Points    int64                       `gorm:"column:points;not null"`
	CreatedAt time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (p *PointsTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// SignedPoints returns the entry's contribution to the balance.
func (p PointsTransaction) SignedPoints() int64 {
	return p.Kind.Sign() * p.Points
}
