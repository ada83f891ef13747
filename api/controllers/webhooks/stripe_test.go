package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/localcommerce-settlement/internal/settlement"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/idempotency"
)

func newGuard(t *testing.T, store *inMemoryStore, scope string) *idempotency.Guard {
	t.Helper()
	guard, err := idempotency.NewGuard(store, scope, time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func postStripe(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set(StripeSignatureHeader, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newGuard(t, newInMemoryStore(), "stripe-webhook"), nil)

	rec := postStripe(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	rec2 := postStripe(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newGuard(t, newInMemoryStore(), "stripe-webhook"), nil)

	rec := postStripe(handler, payload, "t=1,v1=invalid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	handler := StripeWebhook(&fakeStripeWebhookService{}, &fakeSigningClient{secret: "whsec_test"}, newGuard(t, newInMemoryStore(), "stripe-webhook"), nil)

	if rec := postStripe(handler, payload, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", rec.Code)
	}
}

func TestStripeWebhook_RetryableFailureReleasesGuard(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "settle")}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newGuard(t, newInMemoryStore(), "stripe-webhook"), nil)

	rec := postStripe(handler, payload, header)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	service.err = nil
	rec2 := postStripe(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", rec2.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery to reach the service, calls %d", service.calls)
	}
}

func TestStripeWebhook_UnknownOrderIsAcknowledged(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{err: settlement.ErrOrderNotFound}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newGuard(t, newInMemoryStore(), "stripe-webhook"), nil)

	if rec := postStripe(handler, payload, header); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown order, got %d", rec.Code)
	}
	if rec := postStripe(handler, payload, header); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("acknowledged failures keep the guard, calls %d", service.calls)
	}
}

func TestStripeWebhook_RejectsOversizedBody(t *testing.T) {
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newGuard(t, newInMemoryStore(), "stripe-webhook"), nil)

	payload := bytes.Repeat([]byte("a"), maxWebhookBytes+1)
	rec := postStripe(handler, payload, buildStripeSignatureHeader(payload, "whsec_test", time.Now().Unix()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("oversized bodies must not reach the service")
	}
}

func TestStripeWebhook_MissingDependencies(t *testing.T) {
	payload, header := buildSignedEvent(t)
	guard := newGuard(t, newInMemoryStore(), "stripe-webhook")
	handlers := map[string]http.Handler{
		"service": StripeWebhook(nil, &fakeSigningClient{secret: "whsec_test"}, guard, nil),
		"client":  StripeWebhook(&fakeStripeWebhookService{}, nil, guard, nil),
		"guard":   StripeWebhook(&fakeStripeWebhookService{}, &fakeSigningClient{secret: "whsec_test"}, nil, nil),
	}
	for name, handler := range handlers {
		if rec := postStripe(handler, payload, header); rec.Code != http.StatusInternalServerError {
			t.Fatalf("missing %s: expected 500, got %d", name, rec.Code)
		}
	}
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Amount:   2500,
		Currency: stripe.CurrencyEUR,
		Metadata: map[string]string{
			"order_id": uuid.NewString(),
		},
	}
	rawIntent, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal payment intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawIntent,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, "whsec_test", time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	calls int
	err   error
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.calls++
	return f.err
}

type fakeSigningClient struct {
	secret string
	url    string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

func (c *fakeSigningClient) NotificationURL() string {
	return c.url
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("settlement:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[key] != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}
