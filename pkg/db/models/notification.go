package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// Notification is a message queued for a customer or a business after settlement.
// Delivery channels read from this table.
type Notification struct {
	ID          uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID     uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	OrderID     uuid.UUID                  `gorm:"column:order_id;type:uuid;not null"`
	Audience    enums.NotificationAudience `gorm:"column:audience;type:text;not null"`
	RecipientID uuid.UUID                  `gorm:"column:recipient_id;type:uuid;not null"`
	Type        enums.NotificationType     `gorm:"column:type;type:text;not null"`
	Title       string                     `gorm:"column:title;not null"`
	Message     string                     `gorm:"column:message;not null"`
	ReadAt      *time.Time                 `gorm:"column:read_at"`
	CreatedAt   time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
