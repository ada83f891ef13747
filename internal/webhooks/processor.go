package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
)

// Result labels for webhook metrics and logs.
const (
	ResultProcessed = "processed"
	ResultIgnored   = "ignored"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// HandleFunc applies one delivery. It reports false when the event type is
// not one the engine acts on.
type HandleFunc func(ctx context.Context) (bool, error)

// Processor wraps a delivery handler with the durable event log, logging and metrics.
type Processor struct {
	log     *EventLog
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
}

func NewProcessor(log *EventLog, m *metrics.SettlementMetrics, logg *logger.Logger) (*Processor, error) {
	if log == nil {
		return nil, errors.New("webhook event log required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Processor{log: log, metrics: m, logg: logg}, nil
}

// Process runs handle once per provider event id. Errors that redelivery
// cannot fix are stored and returned so the caller can acknowledge them.
func (p *Processor) Process(ctx context.Context, provider enums.PaymentProvider, eventID, eventType string, payload []byte, handle HandleFunc) error {
	ctx = p.logg.WithEventID(ctx, string(provider), eventID)
	ctx = p.logg.WithField(ctx, "event_type", eventType)

	row, err := p.log.Begin(ctx, provider, eventID, eventType, payload)
	if err != nil {
		p.metrics.IncWebhook(string(provider), eventType, ResultFailed)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
	}
	if Done(row) {
		p.metrics.IncWebhook(string(provider), eventType, ResultDuplicate)
		p.logg.Info(ctx, "webhook event already handled")
		return nil
	}

	handled, handleErr := handle(ctx)
	status := enums.WebhookEventProcessed
	result := ResultProcessed
	switch {
	case handleErr != nil && Acknowledge(handleErr):
		status, result = enums.WebhookEventFailed, ResultRejected
		p.logg.Warn(p.logg.WithField(ctx, "error", handleErr.Error()), "webhook event rejected")
	case handleErr != nil:
		status, result = enums.WebhookEventFailed, ResultFailed
		p.logg.Error(ctx, "webhook event failed", handleErr)
	case !handled:
		status, result = enums.WebhookEventIgnored, ResultIgnored
		p.logg.Info(ctx, "webhook event ignored")
	}

	if err := p.log.Finish(ctx, row.ID, status, handleErr); err != nil {
		p.logg.Error(ctx, "failed to store webhook outcome", err)
	}
	p.metrics.IncWebhook(string(provider), eventType, result)
	return handleErr
}

// Acknowledge reports whether a delivery that produced err should still be
// answered with 2xx because redelivery would end the same way.
func Acknowledge(err error) bool {
	if err == nil {
		return true
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	return !pkgerrors.MetadataFor(typed.Code()).Retryable
}

// AccountAggregateID derives a stable outbox aggregate id for a processor
// account, which has no row id of its own on the processor side.
func AccountAggregateID(provider enums.PaymentProvider, externalID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(string(provider)+":"+externalID))
}
