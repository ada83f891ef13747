package square

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

type fakePayments struct {
	created *sq.CreatePaymentRequest
	err     error
}

func (f *fakePayments) Create(_ context.Context, req *sq.CreatePaymentRequest, _ ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error) {
	f.created = req
	if f.err != nil {
		return nil, f.err
	}
	id, status := "pay_1", "COMPLETED"
	return &sq.CreatePaymentResponse{Payment: &sq.Payment{ID: &id, Status: &status}}, nil
}

func (f *fakePayments) Get(_ context.Context, req *sq.GetPaymentsRequest, _ ...sqoption.RequestOption) (*sq.GetPaymentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	status := "APPROVED"
	return &sq.GetPaymentResponse{Payment: &sq.Payment{ID: &req.PaymentID, Status: &status}}, nil
}

func testClient(api paymentsAPI) *Client {
	return &Client{
		payments:   api,
		locationID: "L1",
		logg:       logger.New(logger.Options{ServiceName: "square-test", Output: io.Discard}),
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "square-test", Output: io.Discard})
	valid := config.SquareConfig{AccessToken: "tok", WebhookSecret: "sig", LocationID: "L1"}

	client, err := NewClient(context.Background(), valid, logg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Environment() != EnvSandbox || client.LocationID() != "L1" || client.SigningSecret() != "sig" {
		t.Fatalf("unexpected client settings")
	}

	for name, cfg := range map[string]config.SquareConfig{
		"no token":    {WebhookSecret: "sig", LocationID: "L1"},
		"no secret":   {AccessToken: "tok", LocationID: "L1"},
		"no location": {AccessToken: "tok", WebhookSecret: "sig"},
		"bad env":     {AccessToken: "tok", WebhookSecret: "sig", LocationID: "L1", Env: "staging"},
	} {
		if _, err := NewClient(context.Background(), cfg, logg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := NewClient(context.Background(), valid, nil); err == nil {
		t.Fatalf("expected error without logger")
	}
}

func TestCreatePaymentGeneratesIdempotencyKey(t *testing.T) {
	api := &fakePayments{}
	payment, err := testClient(api).CreatePayment(context.Background(), PaymentCreateParams{AmountCents: 100, SourceID: "cnon:ok"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if deref(payment.GetID()) != "pay_1" {
		t.Fatalf("unexpected payment %v", payment)
	}
	if len(api.created.IdempotencyKey) <= len("payment-") {
		t.Fatalf("expected generated key, got %q", api.created.IdempotencyKey)
	}

	_, _ = testClient(api).CreatePayment(context.Background(), PaymentCreateParams{AmountCents: 100, IdempotencyKey: "order-1"})
	if api.created.IdempotencyKey != "order-1" {
		t.Fatalf("expected provided key, got %q", api.created.IdempotencyKey)
	}
}

func TestGetPaymentMapsFailures(t *testing.T) {
	api := &fakePayments{err: sqcore.NewAPIError(http.StatusNotFound, errors.New(`{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND"}]}`))}
	_, err := testClient(api).GetPayment(context.Background(), "missing")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	api.err = errors.New("connection reset")
	_, err = testClient(api).GetPayment(context.Background(), "pay_1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusPaymentRequired, pkgerrors.CodeValidation},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusBadGateway, pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		if got := codeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestMapErrorRefinesFromBody(t *testing.T) {
	table := []struct {
		name     string
		status   int
		payload  string
		wantCode pkgerrors.Code
	}{
		{"authentication", http.StatusBadRequest, `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`, pkgerrors.CodeUnauthorized},
		{"idempotency reuse", http.StatusConflict, `{"errors":[null,{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`, pkgerrors.CodeIdempotency},
		{"unparseable body", http.StatusConflict, `<html>`, pkgerrors.CodeConflict},
	}
	for _, tt := range table {
		mapped := mapError(sqcore.NewAPIError(tt.status, errors.New(tt.payload)), "operation")
		if !pkgerrors.IsCode(mapped, tt.wantCode) {
			t.Fatalf("%s: expected %s, got %v", tt.name, tt.wantCode, mapped)
		}
	}
}

func TestPaymentRequestCarriesAppFee(t *testing.T) {
	req := PaymentCreateParams{
		AmountCents: 10_000,
		AppFeeCents: 800,
		Currency:    "eur",
		LocationID:  "L1",
		SourceID:    "cnon:card-nonce-ok",
		ReferenceID: "order-1",
	}.request("key-1")

	if req.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}
	if req.AmountMoney == nil || *req.AmountMoney.Amount != 10_000 {
		t.Fatalf("expected amount money 10000")
	}
	if req.AppFeeMoney == nil || *req.AppFeeMoney.Amount != 800 {
		t.Fatalf("expected app fee money 800")
	}
	if *req.AppFeeMoney.Currency != sq.Currency("EUR") {
		t.Fatalf("expected upper-cased currency, got %s", *req.AppFeeMoney.Currency)
	}
	if req.CustomerID != nil || req.Note != nil {
		t.Fatalf("expected blank fields to be omitted")
	}
	if req.ReferenceID == nil || *req.ReferenceID != "order-1" {
		t.Fatalf("expected reference id")
	}
}

func TestPaymentRequestOmitsZeroFee(t *testing.T) {
	req := PaymentCreateParams{AmountCents: 500}.request("key-2")
	if req.AppFeeMoney != nil {
		t.Fatalf("expected no app fee")
	}
	if *req.AmountMoney.Currency != sq.Currency(defaultCurrency) {
		t.Fatalf("expected default currency")
	}
}
