package businesses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

// Capabilities are the account flags a processor reports for a payout account.
type Capabilities struct {
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Repository reads businesses and maintains their processor account linkage.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided DB handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, business *models.Business) error {
	return r.db.WithContext(ctx).Create(business).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	var business models.Business
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

// FindPaymentAccount returns the business's account at provider, or nil when
// none is linked.
func (r *Repository) FindPaymentAccount(ctx context.Context, businessID uuid.UUID, provider enums.PaymentProvider) (*models.PaymentAccount, error) {
	var account models.PaymentAccount
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessID, provider).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *Repository) LinkPaymentAccount(ctx context.Context, account *models.PaymentAccount) error {
	if !account.Provider.IsValid() {
		return fmt.Errorf("invalid payment provider %q", account.Provider)
	}
	return r.db.WithContext(ctx).Create(account).Error
}

// UpdateCapabilities stores the flags reported for externalAccountID. It
// returns false when no business is linked to that account.
func (r *Repository) UpdateCapabilities(ctx context.Context, provider enums.PaymentProvider, externalAccountID string, caps Capabilities) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentAccount{}).
		Where("provider = ? AND external_account_id = ?", provider, externalAccountID).
		Updates(map[string]any{
			"charges_enabled":   caps.ChargesEnabled,
			"payouts_enabled":   caps.PayoutsEnabled,
			"details_submitted": caps.DetailsSubmitted,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("update payment account: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
