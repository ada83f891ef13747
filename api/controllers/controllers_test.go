package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/localcommerce-settlement/internal/notifications"
	"github.com/angelmondragon/localcommerce-settlement/internal/payments"
	"github.com/angelmondragon/localcommerce-settlement/internal/reconciliation"
	"github.com/angelmondragon/localcommerce-settlement/internal/rewards"
	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
)

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

type errorEnvelope struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

type stubCheckout struct {
	req payments.CheckoutRequest
	out *payments.Checkout
	err error
}

func (s *stubCheckout) StartCheckout(_ context.Context, req payments.CheckoutRequest) (*payments.Checkout, error) {
	s.req = req
	return s.out, s.err
}

func TestStartPayment(t *testing.T) {
	orderID := uuid.New()
	svc := &stubCheckout{out: &payments.Checkout{
		OrderID:         orderID,
		Provider:        enums.PaymentProviderSquare,
		Reference:       "sq_pay_1",
		AmountCents:     4200,
		CommissionCents: 336,
		CommissionRate:  decimal.RequireFromString("0.08"),
		Currency:        "eur",
	}}

	body := `{"provider":"Square","source_id":"cnon:card-nonce-ok"}`
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), map[string]string{"orderId": orderID.String()})
	rec := httptest.NewRecorder()
	StartPayment(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, enums.PaymentProviderSquare, svc.req.Provider)
	require.Equal(t, "cnon:card-nonce-ok", svc.req.SourceID)

	var envelope struct {
		Data startPaymentResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "0.08", envelope.Data.CommissionRate)
	require.EqualValues(t, 336, envelope.Data.CommissionCents)
}

func TestStartPaymentWithoutBodyDefaultsProvider(t *testing.T) {
	svc := &stubCheckout{out: &payments.Checkout{Provider: enums.PaymentProviderStripe}}
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"orderId": uuid.NewString()})
	rec := httptest.NewRecorder()
	StartPayment(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, enums.PaymentProvider(""), svc.req.Provider)
}

func TestStartPaymentRejectsBadInput(t *testing.T) {
	svc := &stubCheckout{}

	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"orderId": "nope"})
	rec := httptest.NewRecorder()
	StartPayment(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = withURLParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"provider":"paypal"}`)), map[string]string{"orderId": uuid.NewString()})
	rec = httptest.NewRecorder()
	StartPayment(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(pkgerrors.CodeValidation), decodeErrorCode(t, rec))
}

func TestStartPaymentSurfacesStateConflict(t *testing.T) {
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeStateConflict, "order is paid")}
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"orderId": uuid.NewString()})
	rec := httptest.NewRecorder()
	StartPayment(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, string(pkgerrors.CodeStateConflict), decodeErrorCode(t, rec))
}

type stubReconciler struct {
	out reconciliation.Outcome
	err error
}

func (s stubReconciler) ReconcileOrder(context.Context, uuid.UUID) (reconciliation.Outcome, error) {
	return s.out, s.err
}

func TestAdminReconcileOrder(t *testing.T) {
	orderID := uuid.New()
	svc := stubReconciler{out: reconciliation.Outcome{
		OrderID:      orderID,
		Action:       reconciliation.ActionSettled,
		Status:       enums.OrderStatusProcessing,
		PaymentState: payments.StateSucceeded,
	}}
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"orderId": orderID.String()})
	rec := httptest.NewRecorder()
	AdminReconcileOrder(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data reconcileResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "settled", envelope.Data.Action)
	require.Equal(t, orderID, envelope.Data.OrderID)
}

func TestAdminReconcileOrderNotFound(t *testing.T) {
	svc := stubReconciler{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"orderId": uuid.NewString()})
	rec := httptest.NewRecorder()
	AdminReconcileOrder(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type stubVerifier struct {
	rec rewards.Reconciliation
}

func (s stubVerifier) Verify(context.Context, uuid.UUID) (rewards.Reconciliation, error) {
	return s.rec, nil
}

func TestAdminUserPoints(t *testing.T) {
	userID := uuid.New()
	ledger := stubVerifier{rec: rewards.Reconciliation{
		UserID: userID, Balance: 40, TotalEarned: 50, TotalRedeemed: 10, LedgerEarned: 50, LedgerRedeemed: 10,
	}}
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"userId": userID.String()})
	rec := httptest.NewRecorder()
	AdminUserPoints(ledger, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data struct {
			Balance    int64 `json:"balance"`
			Consistent bool  `json:"consistent"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.EqualValues(t, 40, envelope.Data.Balance)
	require.True(t, envelope.Data.Consistent)
}

type stubNotifications struct {
	params   notifications.ListParams
	markErr  error
	markedID uuid.UUID
}

func (s *stubNotifications) List(_ context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	s.params = params
	return &notifications.ListResult{Cursor: "next"}, nil
}

func (s *stubNotifications) MarkRead(_ context.Context, _, notificationID uuid.UUID) error {
	s.markedID = notificationID
	return s.markErr
}

func TestListNotificationsParsesQuery(t *testing.T) {
	svc := &stubNotifications{}
	recipient := uuid.New()
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/?limit=5&cursor=abc&unreadOnly=true", nil), map[string]string{"recipientId": recipient.String()})
	rec := httptest.NewRecorder()
	ListNotifications(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, recipient, svc.params.RecipientID)
	require.Equal(t, 5, svc.params.Limit)
	require.Equal(t, "abc", svc.params.Cursor)
	require.True(t, svc.params.UnreadOnly)
}

func TestListNotificationsRejectsBadLimit(t *testing.T) {
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/?limit=-1", nil), map[string]string{"recipientId": uuid.NewString()})
	rec := httptest.NewRecorder()
	ListNotifications(&stubNotifications{}, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkNotificationRead(t *testing.T) {
	svc := &stubNotifications{}
	id := uuid.New()
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"recipientId": uuid.NewString(), "notificationId": id.String()})
	rec := httptest.NewRecorder()
	MarkNotificationRead(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, id, svc.markedID)

	svc.markErr = pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	rec = httptest.NewRecorder()
	MarkNotificationRead(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"db": ok, "redis": ok}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", rec.Header().Get(envHeader))

	rec = httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"db": ok, "redis": down}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, string(pkgerrors.CodeDependency), decodeErrorCode(t, rec))
}
