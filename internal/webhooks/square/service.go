package squarewebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/internal/payments"
	"github.com/angelmondragon/localcommerce-settlement/internal/settlement"
	"github.com/angelmondragon/localcommerce-settlement/internal/webhooks"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox/payloads"
)

// ActorKind tags outbox events caused by Square deliveries.
const ActorKind = "square_webhook"

// Square event types the engine acts on.
const (
	EventPaymentCreated            = "payment.created"
	EventPaymentUpdated            = "payment.updated"
	EventOAuthAuthorizationRevoked = "oauth.authorization.revoked"
)

type settler interface {
	Finalize(ctx context.Context, n settlement.PaymentNotification) (settlement.Result, error)
	MarkPaymentFailed(ctx context.Context, f settlement.PaymentFailure) (settlement.Result, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type processor interface {
	Process(ctx context.Context, provider enums.PaymentProvider, eventID, eventType string, payload []byte, handle webhooks.HandleFunc) error
}

type ServiceParams struct {
	Settler           settler
	Businesses        *businesses.Repository
	Outbox            outboxEmitter
	Processor         processor
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type Service struct {
	settler    settler
	businesses *businesses.Repository
	outbox     outboxEmitter
	processor  processor
	txRunner   txRunner
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Settler == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement orchestrator required")
	case params.Businesses == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "businesses repo required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	case params.Processor == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor required")
	case params.TransactionRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		settler:    params.Settler,
		businesses: params.Businesses,
		outbox:     params.Outbox,
		processor:  params.Processor,
		txRunner:   params.TransactionRunner,
		logg:       params.Logger,
	}, nil
}

// Event is the envelope Square posts for every notification.
type Event struct {
	MerchantID string    `json:"merchant_id"`
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	CreatedAt  string    `json:"created_at"`
	Data       EventData `json:"data"`
}

type EventData struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Object json.RawMessage `json:"object"`
}

type paymentObject struct {
	Payment *sq.Payment `json:"payment"`
}

// ParseEvent decodes a verified notification body.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}
	if strings.TrimSpace(event.EventID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square event id missing")
	}
	return &event, nil
}

// VerifySignature checks the x-square-hmacsha256-signature header: base64 of
// HMAC-SHA256 over the notification URL followed by the raw body.
func VerifySignature(notificationURL string, payload []byte, signature, key string) bool {
	if signature == "" || key == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleEvent dispatches a verified Square notification.
func (s *Service) HandleEvent(ctx context.Context, event *Event, payload []byte) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	return s.processor.Process(ctx, enums.PaymentProviderSquare, event.EventID, event.Type, payload, func(ctx context.Context) (bool, error) {
		return s.dispatch(ctx, event)
	})
}

func (s *Service) dispatch(ctx context.Context, event *Event) (bool, error) {
	actor := &outbox.ActorRef{Kind: ActorKind, ID: event.EventID}
	switch event.Type {
	case EventPaymentCreated, EventPaymentUpdated:
		var obj paymentObject
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
			return true, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square payment")
		}
		if obj.Payment == nil {
			return true, pkgerrors.New(pkgerrors.CodeValidation, "square payment missing")
		}
		return s.paymentChanged(ctx, payments.SquarePayment(obj.Payment), actor)
	case EventOAuthAuthorizationRevoked:
		return true, s.authorizationRevoked(ctx, event.MerchantID, actor)
	default:
		return false, nil
	}
}

// paymentChanged settles completed payments and cancels failed ones. Payments
// still in flight are ignored; Square sends another update when they finish.
func (s *Service) paymentChanged(ctx context.Context, payment *payments.Payment, actor *outbox.ActorRef) (bool, error) {
	if payment.State == payments.StatePending {
		return false, nil
	}
	if payment.OrderID == uuid.Nil {
		return true, pkgerrors.New(pkgerrors.CodeValidation, "square payment has no order reference")
	}

	if payment.State == payments.StateFailed {
		_, err := s.settler.MarkPaymentFailed(ctx, settlement.PaymentFailure{
			Provider:  enums.PaymentProviderSquare,
			OrderID:   payment.OrderID,
			Reference: payment.Reference,
			Reason:    payment.FailureReason,
			Actor:     actor,
		})
		return true, err
	}

	_, err := s.settler.Finalize(ctx, settlement.PaymentNotification{
		Provider:      enums.PaymentProviderSquare,
		CorrelationID: payment.Reference,
		OrderID:       payment.OrderID,
		AmountCents:   payment.AmountCents,
		Currency:      payment.Currency,
		Actor:         actor,
	})
	return true, err
}

// authorizationRevoked clears the capability flags of a seller that
// disconnected the platform.
func (s *Service) authorizationRevoked(ctx context.Context, merchantID string, actor *outbox.ActorRef) error {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "square merchant id missing")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		found, err := s.businesses.WithTx(tx).UpdateCapabilities(ctx, enums.PaymentProviderSquare, merchantID, businesses.Capabilities{})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment account")
		}
		if !found {
			s.logg.Warn(s.logg.WithField(ctx, "merchant_id", merchantID), "authorization revoked for unlinked square merchant")
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentAccountUpdated,
			AggregateType: enums.AggregatePaymentAccount,
			AggregateID:   webhooks.AccountAggregateID(enums.PaymentProviderSquare, merchantID),
			Actor:         actor,
			Data: payloads.PaymentAccountUpdatedEvent{
				Provider:          enums.PaymentProviderSquare,
				ExternalAccountID: merchantID,
			},
		})
	})
}
