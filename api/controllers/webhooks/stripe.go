package webhooks

import (
	"context"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

// StripeSignatureHeader carries Stripe's timestamped signature.
const StripeSignatureHeader = "Stripe-Signature"

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies and applies Stripe payment and account events.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard idempotencyGuard, logg *logger.Logger) http.HandlerFunc {
	switch {
	case svc == nil:
		return unavailable(logg, "webhook service")
	case client == nil:
		return unavailable(logg, "stripe client")
	}
	return receive("stripe", guard, logg, func(r *http.Request, body []byte) (delivery, error) {
		sig := r.Header.Get(StripeSignatureHeader)
		if sig == "" {
			return delivery{}, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing")
		}
		event, err := webhook.ConstructEventWithOptions(body, sig, client.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return delivery{}, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "verify signature")
		}
		return delivery{
			eventID: event.ID,
			apply:   func(ctx context.Context) error { return svc.HandleEvent(ctx, &event) },
		}, nil
	})
}
