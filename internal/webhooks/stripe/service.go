package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/internal/businesses"
	"github.com/angelmondragon/localcommerce-settlement/internal/orders"
	"github.com/angelmondragon/localcommerce-settlement/internal/payments"
	"github.com/angelmondragon/localcommerce-settlement/internal/settlement"
	"github.com/angelmondragon/localcommerce-settlement/internal/webhooks"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox/payloads"
)

// ActorKind tags outbox events caused by Stripe deliveries.
const ActorKind = "stripe_webhook"

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
	Orders            orders.Repository
	Businesses        *businesses.Repository
	Outbox            outboxEmitter
	Processor         processor
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type Service struct {
	settler    settler
	orders     orders.Repository
	businesses *businesses.Repository
	outbox     outboxEmitter
	processor  processor
	txRunner   txRunner
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Settler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement orchestrator required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Businesses == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "businesses repo required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		settler:    params.Settler,
		orders:     params.Orders,
		businesses: params.Businesses,
		outbox:     params.Outbox,
		processor:  params.Processor,
		txRunner:   params.TransactionRunner,
		logg:       params.Logger,
	}, nil
}

// HandleEvent dispatches a verified Stripe event.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	return s.processor.Process(ctx, enums.PaymentProviderStripe, event.ID, string(event.Type), event.Data.Raw, func(ctx context.Context) (bool, error) {
		return s.dispatch(ctx, event)
	})
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (bool, error) {
	actor := &outbox.ActorRef{Kind: ActorKind, ID: event.ID}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return true, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		return true, s.checkoutCompleted(ctx, &session, actor)
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return true, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		return true, s.intentSucceeded(ctx, &intent, actor)
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return true, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		return true, s.intentFailed(ctx, &intent, actor)
	case stripe.EventTypeAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return true, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode account")
		}
		return true, s.accountUpdated(ctx, &acct, actor)
	default:
		return false, nil
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, session *stripe.CheckoutSession, actor *outbox.ActorRef) error {
	orderID, err := orderIDFrom(session.ClientReferenceID, session.Metadata)
	if err != nil {
		return err
	}
	if err := s.orders.RecordCheckoutSession(ctx, orderID, enums.PaymentProviderStripe, session.ID); err != nil {
		if orders.IsNotFound(err) {
			return settlement.ErrOrderNotFound
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record checkout session")
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid || session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		return nil
	}
	businessID, _ := uuid.Parse(session.Metadata[payments.MetadataBusinessID])
	_, err = s.settler.Finalize(ctx, settlement.PaymentNotification{
		Provider:      enums.PaymentProviderStripe,
		CorrelationID: session.PaymentIntent.ID,
		OrderID:       orderID,
		BusinessID:    businessID,
		AmountCents:   session.AmountTotal,
		Currency:      string(session.Currency),
		Actor:         actor,
	})
	return err
}

func (s *Service) intentSucceeded(ctx context.Context, intent *stripe.PaymentIntent, actor *outbox.ActorRef) error {
	orderID, err := orderIDFrom("", intent.Metadata)
	if err != nil {
		return err
	}
	businessID, _ := uuid.Parse(intent.Metadata[payments.MetadataBusinessID])
	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	_, err = s.settler.Finalize(ctx, settlement.PaymentNotification{
		Provider:      enums.PaymentProviderStripe,
		CorrelationID: intent.ID,
		OrderID:       orderID,
		BusinessID:    businessID,
		AmountCents:   amount,
		Currency:      string(intent.Currency),
		Actor:         actor,
	})
	return err
}

func (s *Service) intentFailed(ctx context.Context, intent *stripe.PaymentIntent, actor *outbox.ActorRef) error {
	orderID, err := orderIDFrom("", intent.Metadata)
	if err != nil {
		return err
	}
	reason := ""
	if intent.LastPaymentError != nil {
		reason = intent.LastPaymentError.Msg
	}
	_, err = s.settler.MarkPaymentFailed(ctx, settlement.PaymentFailure{
		Provider:  enums.PaymentProviderStripe,
		OrderID:   orderID,
		Reference: intent.ID,
		Reason:    reason,
		Actor:     actor,
	})
	return err
}

func (s *Service) accountUpdated(ctx context.Context, acct *stripe.Account, actor *outbox.ActorRef) error {
	if acct.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id missing")
	}
	caps := payments.StripeCapabilities(acct)
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		found, err := s.businesses.WithTx(tx).UpdateCapabilities(ctx, enums.PaymentProviderStripe, acct.ID, caps)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment account")
		}
		if !found {
			s.logg.Warn(s.logg.WithField(ctx, "account_id", acct.ID), "account update for unlinked stripe account")
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentAccountUpdated,
			AggregateType: enums.AggregatePaymentAccount,
			AggregateID:   webhooks.AccountAggregateID(enums.PaymentProviderStripe, acct.ID),
			Actor:         actor,
			Data: payloads.PaymentAccountUpdatedEvent{
				Provider:          enums.PaymentProviderStripe,
				ExternalAccountID: acct.ID,
				ChargesEnabled:    caps.ChargesEnabled,
				PayoutsEnabled:    caps.PayoutsEnabled,
				DetailsSubmitted:  caps.DetailsSubmitted,
			},
		})
	})
}

// orderIDFrom reads the order id from the client reference, falling back to metadata.
func orderIDFrom(clientReference string, metadata map[string]string) (uuid.UUID, error) {
	raw := strings.TrimSpace(clientReference)
	if raw == "" {
		raw = strings.TrimSpace(metadata[payments.MetadataOrderID])
	}
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id missing from stripe object")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}
