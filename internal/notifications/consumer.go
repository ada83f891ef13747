package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
)

// ConsumerScope is the idempotency scope event ids are claimed under.
const ConsumerScope = "settlement-notifications"

type claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type subscriber interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type deliverer interface {
	Deliver(ctx context.Context, eventID uuid.UUID, eventType enums.OutboxEventType, data json.RawMessage) (int, error)
}

// Consumer reads settlement events from Pub/Sub and records the customer and
// business notifications they produce.
type Consumer struct {
	service      deliverer
	subscription subscriber
	guard        claimer
	logg         *logger.Logger
}

// NewConsumer builds a settlement notification consumer.
func NewConsumer(service deliverer, subscription subscriber, guard claimer, logg *logger.Logger) (*Consumer, error) {
	if service == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		service:      service,
		subscription: subscription,
		guard:        guard,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func handledEvent(eventType enums.OutboxEventType) bool {
	return eventType == enums.EventOrderSettled || eventType == enums.EventOrderPaymentFailed
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id":   msg.ID,
		"event_type":   eventType,
		"aggregate_id": msg.Attributes["aggregate_id"],
	})

	if !handledEvent(eventType) {
		c.logg.Debug(logCtx, "skipping event without notifications")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	claimed, err := c.guard.Claim(ctx, eventID.String())
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	created, err := c.service.Deliver(ctx, eventID, eventType, envelope.Data)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			c.logg.Error(logCtx, "dropping malformed settlement event", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "notification handling failed", err)
		if relErr := c.guard.Release(ctx, eventID.String()); relErr != nil {
			c.logg.Error(logCtx, "release idempotency claim", relErr)
		}
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithField(logCtx, "created", created), "settlement notifications stored")
	return processResult{ack: true}
}
