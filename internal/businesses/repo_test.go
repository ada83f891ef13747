package businesses

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

func TestUpdateCapabilities(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	business := &models.Business{Name: "Corner Bakery", OwnerUserID: uuid.New()}
	require.NoError(t, repo.Create(ctx, business))
	require.NoError(t, repo.LinkPaymentAccount(ctx, &models.PaymentAccount{
		BusinessID:        business.ID,
		Provider:          enums.PaymentProviderStripe,
		ExternalAccountID: "acct_123",
	}))

	updated, err := repo.UpdateCapabilities(ctx, enums.PaymentProviderStripe, "acct_123", Capabilities{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true})
	require.NoError(t, err)
	require.True(t, updated)

	account, err := repo.FindPaymentAccount(ctx, business.ID, enums.PaymentProviderStripe)
	require.NoError(t, err)
	require.True(t, account.CanReceivePayments())
	require.True(t, account.PayoutsEnabled)
	require.True(t, account.DetailsSubmitted)

	updated, err = repo.UpdateCapabilities(ctx, enums.PaymentProviderStripe, "acct_unknown", Capabilities{ChargesEnabled: true})
	require.NoError(t, err)
	require.False(t, updated)
}

func TestFindPaymentAccountMissing(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	account, err := repo.FindPaymentAccount(context.Background(), uuid.New(), enums.PaymentProviderSquare)
	require.NoError(t, err)
	require.Nil(t, account)
}

func TestLinkPaymentAccountRejectsUnknownProvider(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	err := repo.LinkPaymentAccount(context.Background(), &models.PaymentAccount{
		BusinessID:        uuid.New(),
		Provider:          "paypal",
		ExternalAccountID: "x",
	})
	require.Error(t, err)
}
