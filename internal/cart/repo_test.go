package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

func TestClearForUserRemovesBothCarts(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	shopper := uuid.New()
	other := uuid.New()

	require.NoError(t, repo.Add(ctx, &models.CartItem{UserID: shopper, ItemID: uuid.New(), ItemKind: enums.ItemKindProduct, Quantity: 2}))
	require.NoError(t, repo.Add(ctx, &models.CartItem{UserID: shopper, ItemID: uuid.New(), ItemKind: enums.ItemKindService, Quantity: 1}))
	require.NoError(t, repo.Add(ctx, &models.CartItem{UserID: other, ItemID: uuid.New(), ItemKind: enums.ItemKindProduct, Quantity: 1}))

	removed, err := repo.ClearForUser(ctx, shopper)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	count, err := repo.CountForUser(ctx, shopper)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = repo.CountForUser(ctx, other)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	removed, err = repo.ClearForUser(ctx, shopper)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestAddValidates(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	require.Error(t, repo.Add(ctx, &models.CartItem{UserID: uuid.New(), ItemID: uuid.New(), ItemKind: "gift", Quantity: 1}))
	require.Error(t, repo.Add(ctx, &models.CartItem{UserID: uuid.New(), ItemID: uuid.New(), ItemKind: enums.ItemKindProduct}))
}
