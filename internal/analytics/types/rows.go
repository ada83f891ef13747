package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// Settlement outcomes recorded in the settlements table.
const (
	OutcomeSettled       = "settled"
	OutcomeAudit         = "audit_only"
	OutcomePaymentFailed = "payment_failed"
)

// SettlementRow mirrors the settlements BigQuery schema. One row per
// settlement-related event; revenue columns are zero for non-revenue outcomes.
type SettlementRow struct {
	EventID             string             `bigquery:"event_id"`
	EventType           string             `bigquery:"event_type"`
	Outcome             string             `bigquery:"outcome"`
	OccurredAt          time.Time          `bigquery:"occurred_at"`
	OrderID             string             `bigquery:"order_id"`
	BusinessID          *string            `bigquery:"business_id"`
	UserID              *string            `bigquery:"user_id"`
	Provider            string             `bigquery:"provider"`
	CorrelationID       *string            `bigquery:"correlation_id"`
	Currency            *string            `bigquery:"currency"`
	GrossCents          int64              `bigquery:"gross_cents"`
	CommissionCents     int64              `bigquery:"commission_cents"`
	BusinessAmountCents int64              `bigquery:"business_amount_cents"`
	CommissionRate      *string            `bigquery:"commission_rate"`
	CommissionSource    *string            `bigquery:"commission_source"`
	CommissionTier      *string            `bigquery:"commission_tier"`
	PointsRedeemed      int64              `bigquery:"points_redeemed"`
	PointsEarned        int64              `bigquery:"points_earned"`
	StockShortages      int64              `bigquery:"stock_shortages"`
	FailureReason       *string            `bigquery:"failure_reason"`
	Items               cbigquery.NullJSON `bigquery:"items"`
	Payload             cbigquery.NullJSON `bigquery:"payload"`
}
