package rewards

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
)

// ErrInsufficientBalance is returned by Redeem when the account cannot cover the request.
var ErrInsufficientBalance = pkgerrors.New(pkgerrors.CodeInsufficient, "insufficient points balance")

// Ledger mutates points balances with conditional statements and appends the
// matching ledger entry in the same transaction. Points are denominated in minor
// currency units of cashback.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// CashbackPoints converts a settled amount into earned points, rounding down.
func CashbackPoints(amountCents int64, rate decimal.Decimal) int64 {
	if amountCents <= 0 || !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(amountCents).Mul(rate).Floor().IntPart()
}

// Earn credits points to userID, creating the account on first use.
func (l *Ledger) Earn(ctx context.Context, tx *gorm.DB, userID uuid.UUID, orderID *uuid.UUID, points int64) (*models.PointsTransaction, error) {
	if err := validateMutation(tx, userID, points); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	res := tx.WithContext(ctx).Exec(`
		INSERT INTO points_accounts (user_id, balance, total_earned, total_redeemed, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = points_accounts.balance + excluded.balance,
			total_earned = points_accounts.total_earned + excluded.total_earned,
			updated_at = excluded.updated_at
	`, userID, points, points, now, now)
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "credit points account")
	}

	return l.append(ctx, tx, userID, orderID, enums.PointsEarned, points)
}

// Redeem debits points from userID only when the balance covers them.
func (l *Ledger) Redeem(ctx context.Context, tx *gorm.DB, userID uuid.UUID, orderID *uuid.UUID, points int64) (*models.PointsTransaction, error) {
	if err := validateMutation(tx, userID, points); err != nil {
		return nil, err
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE points_accounts
		SET balance = balance - ?,
			total_redeemed = total_redeemed + ?,
			updated_at = ?
		WHERE user_id = ? AND balance >= ?
	`, points, points, l.now().UTC(), userID, points)
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "debit points account")
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientBalance
	}

	return l.append(ctx, tx, userID, orderID, enums.PointsRedeemed, points)
}

// Balance returns the cached account, or a zero account when the user never earned.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (*models.PointsAccount, error) {
	var account models.PointsAccount
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.PointsAccount{UserID: userID}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load points account")
	}
	return &account, nil
}

func (l *Ledger) append(ctx context.Context, tx *gorm.DB, userID uuid.UUID, orderID *uuid.UUID, kind enums.PointsTransactionKind, points int64) (*models.PointsTransaction, error) {
	entry := &models.PointsTransaction{
		UserID:    userID,
		OrderID:   orderID,
		Kind:      kind,
		Points:    points,
		CreatedAt: l.now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append points transaction")
	}
	return entry, nil
}

func validateMutation(tx *gorm.DB, userID uuid.UUID, points int64) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for points mutation")
	}
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if points <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "points must be positive")
	}
	return nil
}
