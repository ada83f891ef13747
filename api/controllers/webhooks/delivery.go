package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/localcommerce-settlement/api/responses"
	"github.com/angelmondragon/localcommerce-settlement/internal/webhooks"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

// maxWebhookBytes caps a single delivery body.
const maxWebhookBytes = 1 << 20

type idempotencyGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// delivery is a verified webhook: the processor's event id and the work to
// apply it.
type delivery struct {
	eventID string
	apply   func(context.Context) error
}

// verifier authenticates and parses a raw body. Returned errors are written
// as-is, so they should already carry an error code.
type verifier func(r *http.Request, body []byte) (delivery, error)

// receive reads and verifies a delivery, then applies it at most once per
// event id. Failures redelivery could fix release the claim and answer 5xx
// so the processor retries; everything else is acknowledged with 200.
func receive(provider string, guard idempotencyGuard, logg *logger.Logger, verify verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large").WithDetails(map[string]any{"limit_bytes": tooLarge.Limit}))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		d, err := verify(r, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"provider": provider, "event_id": d.eventID})
		}

		claimed, err := guard.Claim(ctx, d.eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if !claimed {
			responses.WriteSuccess(w, map[string]any{"received": true, "duplicate": true})
			return
		}

		err = d.apply(ctx)
		switch {
		case err == nil:
			if logg != nil {
				logg.Info(ctx, "webhook processed")
			}
		case webhooks.Acknowledge(err):
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "webhook acknowledged without effect")
			}
		default:
			if relErr := guard.Release(ctx, d.eventID); relErr != nil && logg != nil {
				logg.Error(ctx, "release webhook claim", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"received": true})
	}
}

// unavailable answers every request with an internal error; used when a
// provider route is mounted without its dependencies.
func unavailable(logg *logger.Logger, what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, what+" unavailable"))
	}
}
