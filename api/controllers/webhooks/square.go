package webhooks

import (
	"context"
	"net/http"

	squarewebhook "github.com/angelmondragon/localcommerce-settlement/internal/webhooks/square"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

// SquareSignatureHeader carries the base64 HMAC Square computes per delivery.
const SquareSignatureHeader = "X-Square-Hmacsha256-Signature"

type SquareWebhookService interface {
	HandleEvent(ctx context.Context, event *squarewebhook.Event, payload []byte) error
}

type squareClient interface {
	SigningSecret() string
	NotificationURL() string
}

// SquareWebhook verifies and applies Square payment and OAuth events.
func SquareWebhook(svc SquareWebhookService, client squareClient, guard idempotencyGuard, logg *logger.Logger) http.HandlerFunc {
	switch {
	case svc == nil:
		return unavailable(logg, "webhook service")
	case client == nil:
		return unavailable(logg, "square client")
	}
	return receive("square", guard, logg, func(r *http.Request, body []byte) (delivery, error) {
		sig := r.Header.Get(SquareSignatureHeader)
		if sig == "" {
			return delivery{}, pkgerrors.New(pkgerrors.CodeSignature, "square signature missing")
		}
		if !squarewebhook.VerifySignature(client.NotificationURL(), body, sig, client.SigningSecret()) {
			return delivery{}, pkgerrors.New(pkgerrors.CodeSignature, "invalid square signature")
		}
		event, err := squarewebhook.ParseEvent(body)
		if err != nil {
			return delivery{}, err
		}
		return delivery{
			eventID: event.EventID,
			apply:   func(ctx context.Context) error { return svc.HandleEvent(ctx, event, body) },
		}, nil
	})
}
