package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
)

// Decrement is the outcome of a guarded stock decrement.
type Decrement struct {
	Applied   bool
	Missing   bool
	Remaining int
}

// Guard decrements catalog stock with single conditional statements. It never
// reads stock before writing, so concurrent settlements cannot drive it negative.
type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// DecrementIfAvailable removes qty units from itemID only when at least qty are in
// stock. Applied=false means the guard predicate missed and nothing was written.
func (g *Guard) DecrementIfAvailable(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, qty int) (Decrement, error) {
	if qty <= 0 {
		return Decrement{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if tx == nil {
		return Decrement{}, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock decrement")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE catalog_items
		SET stock = stock - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock >= ?
	`, qty, itemID, qty)
	if res.Error != nil {
		return Decrement{}, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}

	remaining, found, err := g.stock(ctx, tx, itemID)
	if err != nil {
		return Decrement{}, err
	}
	return Decrement{
		Applied:   res.RowsAffected > 0,
		Missing:   !found,
		Remaining: remaining,
	}, nil
}

// ClampToZero empties the stock of an oversold item and returns the units that were
// left before clamping.
func (g *Guard) ClampToZero(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock clamp")
	}

	previous, found, err := g.stock(ctx, tx, itemID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE catalog_items
		SET stock = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, itemID)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "clamp stock")
	}
	return previous, nil
}

func (g *Guard) stock(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) (int, bool, error) {
	var row struct{ Stock int }
	err := tx.WithContext(ctx).
		Table("catalog_items").
		Select("stock").
		Where("id = ?", itemID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read stock")
	}
	return row.Stock, true, nil
}
