package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// WebhookEvent is the durable log of processor deliveries, unique per provider event id.
type WebhookEvent struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        enums.PaymentProvider    `gorm:"column:provider;type:text;not null"`
	ProviderEventID string                   `gorm:"column:provider_event_id;not null"`
	EventType       string                   `gorm:"column:event_type;not null"`
	Status          enums.WebhookEventStatus `gorm:"column:status;type:text;not null;default:'received'"`
	Attempts        int                      `gorm:"column:attempts;not null;default:1"`
	Payload         json.RawMessage          `gorm:"column:payload;type:jsonb"`
	ProcessingError *string                  `gorm:"column:processing_error"`
	ReceivedAt      time.Time                `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt     *time.Time               `gorm:"column:processed_at"`
}

func (w *WebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
