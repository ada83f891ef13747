package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/localcommerce-settlement/pkg/pagination"
)

// Service turns settlement events into notification rows and exposes them
// to their recipients.
type Service interface {
	Deliver(ctx context.Context, eventID uuid.UUID, eventType enums.OutboxEventType, data json.RawMessage) (int, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo Repository
	tx   txRunner
}

// ListParams configures pagination for notifications.
type ListParams struct {
	RecipientID uuid.UUID
	Limit       int
	Cursor      string
	UnreadOnly  bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

// Deliver writes the rows an event produces and returns how many were new.
// Redelivered events write nothing.
func (s *service) Deliver(ctx context.Context, eventID uuid.UUID, eventType enums.OutboxEventType, data json.RawMessage) (int, error) {
	rows, err := buildNotifications(eventID, eventType, data)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	created := 0
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for i := range rows {
			ok, err := repo.CreateIfAbsent(ctx, &rows[i])
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store notifications")
	}
	return created, nil
}

func buildNotifications(eventID uuid.UUID, eventType enums.OutboxEventType, data json.RawMessage) ([]models.Notification, error) {
	switch eventType {
	case enums.EventOrderSettled:
		var payload payloads.OrderSettledEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode order settled payload")
		}
		if payload.OrderID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id missing")
		}
		total := formatAmount(payload.TotalCents, payload.Currency)
		return []models.Notification{
			{
				EventID:     eventID,
				OrderID:     payload.OrderID,
				Audience:    enums.AudienceCustomer,
				RecipientID: payload.UserID,
				Type:        enums.NotificationOrderConfirmed,
				Title:       "Order confirmed",
				Message:     confirmationMessage(payload, total),
			},
			{
				EventID:     eventID,
				OrderID:     payload.OrderID,
				Audience:    enums.AudienceBusiness,
				RecipientID: payload.BusinessID,
				Type:        enums.NotificationNewOrder,
				Title:       "New paid order",
				Message: fmt.Sprintf("Order %s was paid (%s). Your payout is %s after a %s commission.",
					shortID(payload.OrderID), total, formatAmount(payload.BusinessAmountCents, payload.Currency), formatAmount(payload.CommissionCents, payload.Currency)),
			},
		}, nil
	case enums.EventOrderPaymentFailed:
		var payload payloads.OrderPaymentFailedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment failed payload")
		}
		if payload.OrderID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id missing")
		}
		message := fmt.Sprintf("The payment for order %s did not go through and the order was cancelled.", shortID(payload.OrderID))
		if payload.Reason != "" {
			message = fmt.Sprintf("%s Reason: %s", message, payload.Reason)
		}
		return []models.Notification{{
			EventID:     eventID,
			OrderID:     payload.OrderID,
			Audience:    enums.AudienceCustomer,
			RecipientID: payload.UserID,
			Type:        enums.NotificationPaymentFailed,
			Title:       "Payment failed",
			Message:     message,
		}}, nil
	default:
		return nil, nil
	}
}

func confirmationMessage(payload payloads.OrderSettledEvent, total string) string {
	message := fmt.Sprintf("We received your payment of %s for order %s.", total, shortID(payload.OrderID))
	if payload.PointsRedeemed > 0 {
		message += fmt.Sprintf(" %d points were redeemed.", payload.PointsRedeemed)
	}
	if payload.PointsEarned > 0 {
		message += fmt.Sprintf(" You earned %d points.", payload.PointsEarned)
	}
	return message
}

func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currencyCode(currency))
}

func currencyCode(currency string) string {
	if currency == "" {
		return "EUR"
	}
	return strings.ToUpper(currency)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.RecipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}

	query := listNotificationsParams{
		RecipientID: params.RecipientID,
		Limit:       params.Limit,
		UnreadOnly:  params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	if recipientID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, recipientID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}
