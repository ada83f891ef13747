package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

const maxProcessingErrorLen = 1000

// EventLog is the durable record of processor deliveries. It survives Redis
// evictions, so a delivery already marked processed is never applied twice.
type EventLog struct {
	db *gorm.DB
}

func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db}
}

// Begin records a delivery, bumping attempts when the event id was seen
// before, and returns the stored row.
func (l *EventLog) Begin(ctx context.Context, provider enums.PaymentProvider, eventID, eventType string, payload []byte) (*models.WebhookEvent, error) {
	row := models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		Status:          enums.WebhookEventReceived,
		Attempts:        1,
		Payload:         json.RawMessage(payload),
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoUpdates: clause.Assignments(map[string]any{"attempts": gorm.Expr("webhook_events.attempts + 1")}),
		}).
		Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}

	var stored models.WebhookEvent
	if err := l.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load webhook event: %w", err)
	}
	return &stored, nil
}

// Finish stores the handling result of a delivery.
func (l *EventLog) Finish(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, procErr error) error {
	updates := map[string]any{
		"status":           status,
		"processed_at":     time.Now().UTC(),
		"processing_error": nil,
	}
	if procErr != nil {
		updates["processing_error"] = models.Truncate(procErr.Error(), maxProcessingErrorLen)
	}
	return l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Done reports whether a stored delivery needs no further handling.
func Done(event *models.WebhookEvent) bool {
	return event != nil && (event.Status == enums.WebhookEventProcessed || event.Status == enums.WebhookEventIgnored)
}
