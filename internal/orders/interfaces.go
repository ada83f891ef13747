package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// Repository defines persistence operations on orders. Every status change is a
// compare-and-swap guarded by the expected current status.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CorrelationInUse(ctx context.Context, correlationID string, exceptOrderID uuid.UUID) (bool, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, settlement Settlement) (bool, error)
	RecordAudit(ctx context.Context, id uuid.UUID, audit Audit) error
	SetPointsEarned(ctx context.Context, id uuid.UUID, points int64) error
	AppendNote(ctx context.Context, id uuid.UUID, note string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)
	RecordCheckoutSession(ctx context.Context, id uuid.UUID, provider enums.PaymentProvider, sessionID string) error
	SetPaymentReference(ctx context.Context, id uuid.UUID, provider enums.PaymentProvider, reference string) error
	ListAwaitingPayment(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Order, error)
}

// Settlement carries the columns written on the awaiting_payment -> processing edge.
type Settlement struct {
	Provider            enums.PaymentProvider
	CorrelationID       string
	Rate                decimal.Decimal
	CommissionCents     int64
	BusinessAmountCents int64
	SettledAt           time.Time
}

// Audit carries a payment observed for an order that had already left
// awaiting_payment. Only unset columns are filled.
type Audit struct {
	Provider            enums.PaymentProvider
	CorrelationID       string
	Rate                decimal.Decimal
	CommissionCents     int64
	BusinessAmountCents int64
}
