package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/internal/analytics/types"
	"github.com/angelmondragon/localcommerce-settlement/internal/analytics/writer"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox/payloads"
)

func settledRow(env types.Envelope, event *payloads.OrderSettledEvent) (types.SettlementRow, error) {
	row, err := newRow(env, event.OrderID, types.OutcomeSettled, event.SettledAt, event)
	if err != nil {
		return row, err
	}
	items, err := writer.EncodeJSON(event.Items)
	if err != nil {
		return row, fmt.Errorf("encode items json: %w", err)
	}

	row.BusinessID = optionalID(event.BusinessID)
	row.UserID = optionalID(event.UserID)
	row.Provider = string(event.Provider)
	row.CorrelationID = optional(event.CorrelationID)
	row.Currency = optional(event.Currency)
	row.GrossCents = event.TotalCents
	row.CommissionCents = event.CommissionCents
	row.BusinessAmountCents = event.BusinessAmountCents
	row.CommissionRate = optional(event.CommissionRate)
	row.CommissionSource = optional(event.CommissionSource)
	row.CommissionTier = optional(event.CommissionTier)
	row.PointsRedeemed = event.PointsRedeemed
	row.PointsEarned = event.PointsEarned
	row.StockShortages = int64(event.StockShortages)
	row.Items = items
	return row, nil
}

// auditRow records a settlement seen for an order already past payment. It
// carries no revenue.
func auditRow(env types.Envelope, event *payloads.OrderSettlementAuditedEvent) (types.SettlementRow, error) {
	row, err := newRow(env, event.OrderID, types.OutcomeAudit, env.OccurredAt, event)
	if err != nil {
		return row, err
	}
	row.BusinessID = optionalID(event.BusinessID)
	row.Provider = string(event.Provider)
	row.CorrelationID = optional(event.CorrelationID)
	return row, nil
}

func failedRow(env types.Envelope, event *payloads.OrderPaymentFailedEvent) (types.SettlementRow, error) {
	row, err := newRow(env, event.OrderID, types.OutcomePaymentFailed, event.FailedAt, event)
	if err != nil {
		return row, err
	}
	row.BusinessID = optionalID(event.BusinessID)
	row.UserID = optionalID(event.UserID)
	row.Provider = string(event.Provider)
	row.FailureReason = optional(event.Reason)
	return row, nil
}

// newRow fills the columns every outcome shares. occurred falls back to the
// envelope time; the raw payload is kept as JSON.
func newRow(env types.Envelope, orderID uuid.UUID, outcome string, occurred time.Time, payload any) (types.SettlementRow, error) {
	if orderID == uuid.Nil {
		return types.SettlementRow{}, fmt.Errorf("%s payload missing order_id", env.EventType)
	}
	if occurred.IsZero() {
		occurred = env.OccurredAt
	}
	raw, err := writer.EncodeJSON(payload)
	if err != nil {
		return types.SettlementRow{}, fmt.Errorf("encode payload json: %w", err)
	}
	return types.SettlementRow{
		EventID:    env.EventID,
		EventType:  string(env.EventType),
		Outcome:    outcome,
		OrderID:    orderID.String(),
		OccurredAt: occurred.UTC(),
		Payload:    raw,
	}, nil
}

func optional(value string) *string {
	if v := strings.TrimSpace(value); v != "" {
		return &v
	}
	return nil
}

func optionalID(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	return optional(id.String())
}
