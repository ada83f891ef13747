package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// Repository exposes the cart writes settlement needs.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Add inserts a cart row.
func (r *Repository) Add(ctx context.Context, item *models.CartItem) error {
	if !item.ItemKind.IsValid() {
		return fmt.Errorf("invalid item kind %q", item.ItemKind)
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	return r.db.WithContext(ctx).Create(item).Error
}

// ClearForUser empties both the product and the service cart of userID and
// returns the number of rows removed.
func (r *Repository) ClearForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND item_kind IN ?", userID, []enums.ItemKind{enums.ItemKindProduct, enums.ItemKindService}).
		Delete(&models.CartItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear cart: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountForUser returns how many cart rows userID has.
func (r *Repository) CountForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CartItem{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
