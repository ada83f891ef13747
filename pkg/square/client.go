package square

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

var baseURLs = map[string]string{
	EnvSandbox:    "https://connect.squareupsandbox.com",
	EnvProduction: "https://connect.squareup.com",
}

// paymentsAPI is the part of the SDK payments client in use.
type paymentsAPI interface {
	Create(ctx context.Context, request *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
	Get(ctx context.Context, request *sq.GetPaymentsRequest, opts ...sqoption.RequestOption) (*sq.GetPaymentResponse, error)
}

// Client takes payments at the platform's Square location and carries the
// webhook signing material.
type Client struct {
	payments      paymentsAPI
	environment   string
	webhookSecret string
	webhookURL    string
	locationID    string
	logg          *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment must be %q or %q, got %q", EnvSandbox, EnvProduction, env)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square access token is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("square webhook secret is required")
	}
	location := strings.TrimSpace(cfg.LocationID)
	if location == "" {
		return nil, errors.New("square location id is required")
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token))
	c := &Client{
		payments:      sdk.Payments,
		environment:   env,
		webhookSecret: secret,
		webhookURL:    strings.TrimSpace(cfg.WebhookURL),
		locationID:    location,
		logg:          logg,
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"square_env": env, "location_id": location}), "square client initialized")
	return c, nil
}

// Environment reports EnvSandbox or EnvProduction.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signature key.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// NotificationURL is the subscription URL Square signs together with the body.
func (c *Client) NotificationURL() string {
	if c == nil {
		return ""
	}
	return c.webhookURL
}

func (c *Client) LocationID() string {
	if c == nil {
		return ""
	}
	return c.locationID
}

// CreatePayment charges a payment source. A missing idempotency key is
// generated so a retried request never double charges within one call.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	key := strings.TrimSpace(params.IdempotencyKey)
	if key == "" {
		key = "payment-" + uuid.NewString()
	}
	start := time.Now()
	resp, err := c.payments.Create(ctx, params.request(key))
	ctx = c.logg.WithFields(ctx, map[string]any{
		"reference_id": params.ReferenceID,
		"amount":       params.AmountCents,
		"app_fee":      params.AppFeeCents,
	})
	if err != nil {
		c.trace(ctx, "create_payment", start, nil, err)
		return nil, mapError(err, "create payment")
	}
	c.trace(ctx, "create_payment", start, resp.GetPayment(), nil)
	return resp.GetPayment(), nil
}

// GetPayment fetches the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	start := time.Now()
	resp, err := c.payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
	ctx = c.logg.WithField(ctx, "payment_id", paymentID)
	if err != nil {
		c.trace(ctx, "get_payment", start, nil, err)
		return nil, mapError(err, "get payment")
	}
	c.trace(ctx, "get_payment", start, resp.GetPayment(), nil)
	return resp.GetPayment(), nil
}

// trace writes one entry per SDK call. Payment sources and tokens are never logged.
func (c *Client) trace(ctx context.Context, op string, start time.Time, payment *sq.Payment, err error) {
	ctx = c.logg.WithFields(ctx, map[string]any{
		"operation":   op,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		c.logg.Error(ctx, "square call failed", err)
		return
	}
	if payment != nil {
		ctx = c.logg.WithFields(ctx, map[string]any{
			"payment_id": deref(payment.GetID()),
			"status":     deref(payment.GetStatus()),
		})
	}
	c.logg.Info(ctx, "square call completed")
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
