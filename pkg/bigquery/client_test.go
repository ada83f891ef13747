package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
)

func TestAPIStatusHelpers(t *testing.T) {
	missing := fmt.Errorf("lookup: %w", &googleapi.Error{Code: http.StatusNotFound})
	require.True(t, notFound(missing))
	require.False(t, alreadyExists(missing))

	require.True(t, alreadyExists(&googleapi.Error{Code: http.StatusConflict}))
	require.False(t, notFound(errors.New("dial tcp: timeout")))
}

func TestNilClientIsNotInitialized(t *testing.T) {
	var c *Client
	ctx := context.Background()
	require.ErrorIs(t, c.Ping(ctx), ErrNotInitialized)
	require.ErrorIs(t, c.InsertRows(ctx, "settlements", []any{1}), ErrNotInitialized)
	require.ErrorIs(t, c.EnsureTable(ctx, "settlements", nil, "", false), ErrNotInitialized)
	require.NoError(t, c.Close())
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.BigQueryConfig{Dataset: "settlement"}, nil)
	require.Error(t, err)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{}, nil)
	require.Error(t, err)
}
