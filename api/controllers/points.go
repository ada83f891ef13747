package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/api/responses"
	"github.com/angelmondragon/localcommerce-settlement/internal/rewards"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

type PointsVerifier interface {
	Verify(ctx context.Context, userID uuid.UUID) (rewards.Reconciliation, error)
}

type pointsResponse struct {
	rewards.Reconciliation
	Consistent bool `json:"consistent"`
}

// AdminUserPoints reports a user's cached points totals next to the ledger sums.
func AdminUserPoints(ledger PointsVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points ledger unavailable"))
			return
		}
		userID, err := uuidParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rec, err := ledger.Verify(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pointsResponse{Reconciliation: rec, Consistent: rec.Consistent()})
	}
}
