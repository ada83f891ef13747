package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	pkgsquare "github.com/angelmondragon/localcommerce-settlement/pkg/square"
)

type stubStripeAPI struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	account *stripe.Account
	err     error
}

func (s *stubStripeAPI) CreatePaymentIntent(_ context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.created = params
	if s.err != nil {
		return nil, s.err
	}
	return s.intent, nil
}

func (s *stubStripeAPI) GetPaymentIntent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.intent, nil
}

func (s *stubStripeAPI) GetAccount(_ context.Context, id string) (*stripe.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

func TestStripeGatewayCreatePaymentSetsFeeAndDestination(t *testing.T) {
	orderID := uuid.New()
	businessID := uuid.New()
	api := &stubStripeAPI{intent: &stripe.PaymentIntent{
		ID:           "pi_123",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		Amount:       10_000,
		Currency:     "eur",
		ClientSecret: "pi_123_secret",
		Metadata:     map[string]string{MetadataOrderID: orderID.String(), MetadataBusinessID: businessID.String()},
	}}
	gw, err := NewStripeGateway(api)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	payment, err := gw.CreatePayment(context.Background(), Charge{
		OrderID:             orderID,
		BusinessID:          businessID,
		AmountCents:         10_000,
		ApplicationFeeCents: 800,
		Currency:            "EUR",
		Destination:         "acct_1",
		IdempotencyKey:      "order-" + orderID.String(),
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if *api.created.ApplicationFeeAmount != 800 {
		t.Fatalf("expected application fee 800, got %d", *api.created.ApplicationFeeAmount)
	}
	if *api.created.TransferData.Destination != "acct_1" {
		t.Fatalf("unexpected destination %s", *api.created.TransferData.Destination)
	}
	if *api.created.Currency != "eur" {
		t.Fatalf("expected lower-cased currency, got %s", *api.created.Currency)
	}
	if api.created.Metadata[MetadataOrderID] != orderID.String() {
		t.Fatalf("order id metadata missing")
	}
	if payment.Reference != "pi_123" || payment.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if payment.State != StatePending {
		t.Fatalf("expected pending, got %s", payment.State)
	}
	if payment.OrderID != orderID || payment.BusinessID != businessID {
		t.Fatalf("metadata ids not parsed")
	}
}

func TestStripeGatewayRequiresDestination(t *testing.T) {
	gw, _ := NewStripeGateway(&stubStripeAPI{})
	_, err := gw.CreatePayment(context.Background(), Charge{AmountCents: 100, Currency: "eur"})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStripeState(t *testing.T) {
	cases := []struct {
		name   string
		intent *stripe.PaymentIntent
		want   State
	}{
		{"succeeded", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded}, StateSucceeded},
		{"canceled", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled}, StateFailed},
		{"declined", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod, LastPaymentError: &stripe.Error{Msg: "card declined"}}, StateFailed},
		{"awaiting card", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, StatePending},
		{"processing", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}, StatePending},
		{"nil", nil, StatePending},
	}
	for _, tc := range cases {
		if got := StripeState(tc.intent); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestStripePaymentStatusCarriesFailureReason(t *testing.T) {
	gw, _ := NewStripeGateway(&stubStripeAPI{intent: &stripe.PaymentIntent{
		ID:               "pi_failed",
		Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
		Amount:           500,
		LastPaymentError: &stripe.Error{Msg: "Your card was declined."},
	}})
	payment, err := gw.PaymentStatus(context.Background(), "pi_failed")
	if err != nil {
		t.Fatalf("payment status: %v", err)
	}
	if payment.State != StateFailed || payment.FailureReason != "Your card was declined." {
		t.Fatalf("unexpected payment %+v", payment)
	}
}

func TestStripeErrorMapping(t *testing.T) {
	gw, _ := NewStripeGateway(&stubStripeAPI{err: &stripe.Error{HTTPStatusCode: 404, Msg: "No such payment_intent"}})
	_, err := gw.PaymentStatus(context.Background(), "pi_missing")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	gw, _ = NewStripeGateway(&stubStripeAPI{err: errors.New("connection reset")})
	_, err = gw.PaymentStatus(context.Background(), "pi_x")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestStripeAccountCapabilities(t *testing.T) {
	gw, _ := NewStripeGateway(&stubStripeAPI{account: &stripe.Account{ChargesEnabled: true, DetailsSubmitted: true}})
	caps, err := gw.AccountCapabilities(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if !caps.ChargesEnabled || caps.PayoutsEnabled || !caps.DetailsSubmitted {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
}

type stubSquareAPI struct {
	created pkgsquare.PaymentCreateParams
	payment *sq.Payment
}

func (s *stubSquareAPI) CreatePayment(_ context.Context, params pkgsquare.PaymentCreateParams) (*sq.Payment, error) {
	s.created = params
	return s.payment, nil
}

func (s *stubSquareAPI) GetPayment(_ context.Context, paymentID string) (*sq.Payment, error) {
	return s.payment, nil
}

func (s *stubSquareAPI) LocationID() string { return "LOC1" }

func squarePaymentFixture(id, status, reference string, amount int64) *sq.Payment {
	currency := sq.Currency("EUR")
	return &sq.Payment{
		ID:          &id,
		Status:      &status,
		ReferenceID: &reference,
		AmountMoney: &sq.Money{Amount: &amount, Currency: &currency},
	}
}

func TestSquareGatewayCreatePayment(t *testing.T) {
	orderID := uuid.New()
	api := &stubSquareAPI{payment: squarePaymentFixture("sq_1", SquareStatusApproved, orderID.String(), 2_000)}
	gw, err := NewSquareGateway(api)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	payment, err := gw.CreatePayment(context.Background(), Charge{
		OrderID:             orderID,
		BusinessID:          uuid.New(),
		AmountCents:         2_000,
		ApplicationFeeCents: 200,
		Currency:            "eur",
		SourceID:            "cnon:card-nonce-ok",
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if api.created.AppFeeCents != 200 || api.created.LocationID != "LOC1" || api.created.ReferenceID != orderID.String() {
		t.Fatalf("unexpected square params %+v", api.created)
	}
	if payment.Reference != "sq_1" || payment.State != StatePending || payment.OrderID != orderID {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if payment.Currency != "eur" || payment.AmountCents != 2_000 {
		t.Fatalf("unexpected money %d %s", payment.AmountCents, payment.Currency)
	}
}

func TestSquareGatewayRequiresSource(t *testing.T) {
	gw, _ := NewSquareGateway(&stubSquareAPI{})
	_, err := gw.CreatePayment(context.Background(), Charge{AmountCents: 100})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSquareState(t *testing.T) {
	for status, want := range map[string]State{
		"COMPLETED": StateSucceeded,
		"completed": StateSucceeded,
		"FAILED":    StateFailed,
		"CANCELED":  StateFailed,
		"APPROVED":  StatePending,
		"PENDING":   StatePending,
		"":          StatePending,
	} {
		if got := SquareState(status); got != want {
			t.Fatalf("%q: expected %s, got %s", status, want, got)
		}
	}
}

func TestRegistrySkipsNil(t *testing.T) {
	stripeGW, _ := NewStripeGateway(&stubStripeAPI{})
	reg := NewRegistry(stripeGW, nil)
	if _, ok := reg.Get(enums.PaymentProviderStripe); !ok {
		t.Fatalf("expected stripe gateway")
	}
	if _, ok := reg.Get(enums.PaymentProviderSquare); ok {
		t.Fatalf("expected square gateway to be absent")
	}
}
