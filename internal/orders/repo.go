package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindForUpdate locks the order row until the surrounding transaction ends.
func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}

	var items []models.OrderLineItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", id).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (r *repository) CorrelationInUse(ctx context.Context, correlationID string, exceptOrderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("payment_correlation_id = ? AND id <> ?", correlationID, exceptOrderID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) MarkProcessing(ctx context.Context, id uuid.UUID, s Settlement) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
UPDATE orders
SET status = ?,
    payment_provider = ?,
    payment_correlation_id = ?,
    commission_rate = ?,
    platform_commission_cents = ?,
    business_amount_cents = ?,
    settled_at = ?,
    updated_at = ?
WHERE id = ? AND status = ?`,
		enums.OrderStatusProcessing,
		s.Provider,
		s.CorrelationID,
		s.Rate,
		s.CommissionCents,
		s.BusinessAmountCents,
		s.SettledAt,
		s.SettledAt,
		id,
		enums.OrderStatusAwaitingPayment,
	)
	if res.Error != nil {
		return false, fmt.Errorf("mark order processing: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) RecordAudit(ctx context.Context, id uuid.UUID, a Audit) error {
	return r.db.WithContext(ctx).Exec(`
UPDATE orders
SET payment_provider = COALESCE(payment_provider, ?),
    payment_correlation_id = COALESCE(payment_correlation_id, ?),
    commission_rate = COALESCE(commission_rate, ?),
    platform_commission_cents = COALESCE(platform_commission_cents, ?),
    business_amount_cents = COALESCE(business_amount_cents, ?),
    updated_at = ?
WHERE id = ?`,
		a.Provider,
		nullIfEmpty(a.CorrelationID),
		a.Rate,
		a.CommissionCents,
		a.BusinessAmountCents,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) SetPointsEarned(ctx context.Context, id uuid.UUID, points int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{"points_earned": points, "updated_at": time.Now().UTC()}).Error
}

// AppendNote adds a line to internal_notes. Notes are staff-only.
func (r *repository) AppendNote(ctx context.Context, id uuid.UUID, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	return r.db.WithContext(ctx).Exec(
		`UPDATE orders SET internal_notes = COALESCE(internal_notes || ?, ?), updated_at = ? WHERE id = ?`,
		"\n"+note, note, time.Now().UTC(), id,
	).Error
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
UPDATE orders
SET status = ?, failure_reason = ?, cancelled_at = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		enums.OrderStatusCancelled,
		reason,
		at,
		at,
		id,
		enums.OrderStatusAwaitingPayment,
	)
	if res.Error != nil {
		return false, fmt.Errorf("mark order cancelled: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) RecordCheckoutSession(ctx context.Context, id uuid.UUID, provider enums.PaymentProvider, sessionID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"checkout_session_id": sessionID,
			"payment_provider":    provider,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) SetPaymentReference(ctx context.Context, id uuid.UUID, provider enums.PaymentProvider, reference string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusAwaitingPayment).
		Updates(map[string]any{
			"payment_reference": reference,
			"payment_provider":  provider,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListAwaitingPayment returns unpaid orders created in (createdAfter, createdBefore)
// that already have a processor reference to re-query.
func (r *repository) ListAwaitingPayment(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusAwaitingPayment).
		Where("payment_reference IS NOT NULL").
		Where("created_at < ? AND created_at > ?", createdBefore.UTC(), createdAfter.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// IsNotFound reports whether err is a missing-row error from this repository.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
