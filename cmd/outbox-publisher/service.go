package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/internal/bootstrap"
	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
	"github.com/angelmondragon/localcommerce-settlement/pkg/metrics"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
	PublisherFactory publisherFactory
}

// Service drains outbox_events to Pub/Sub. Batches are claimed with SKIP
// LOCKED so several publishers can run side by side; every message of a
// batch is handed to Pub/Sub before any result is awaited.
type Service struct {
	logg       *logger.Logger
	db         dbClient
	pubsub     pubSubClient
	repo       outboxRepository
	registry   registryResolver
	dlq        dlqRepository
	metrics    *metrics.OutboxMetrics
	publishers publisherFactory
	now        func() time.Time

	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	svc := &Service{
		logg:        params.Logger,
		db:          params.DB,
		pubsub:      params.PubSub,
		repo:        params.Repository,
		registry:    params.Registry,
		dlq:         params.DLQRepository,
		metrics:     params.Metrics,
		publishers:  params.PublisherFactory,
		now:         time.Now,
		batchSize:   orDefault(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts: orDefault(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		poll:        time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if svc.poll <= 0 {
		svc.poll = defaultPoll
	}
	if svc.publishers == nil {
		svc.publishers = topicPublishers(params.PubSub)
	}
	return svc, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// errorBackoff doubles from the poll interval up to maxBackoff, with jitter
// so restarted publishers do not poll in lockstep.
func errorBackoff(base time.Duration) retry.Backoff {
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(maxBackoff, b)
	return retry.WithJitter(jitterWindow, b)
}

func (s *Service) Run(ctx context.Context) error {
	err := bootstrap.Ready(ctx, s.logg, 0,
		bootstrap.Check{Name: "database", Ping: s.db.Ping},
		bootstrap.Check{Name: "pubsub", Ping: s.pubsub.Ping},
	)
	if err != nil {
		return err
	}

	backoff := errorBackoff(s.poll)
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait, _ = backoff.Next()
		case processed:
			backoff = errorBackoff(s.poll)
			continue
		default:
			backoff = errorBackoff(s.poll)
			wait = s.poll
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

type inflight struct {
	row      models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
}

// processBatch claims one batch and settles every row in it: published,
// scheduled for retry or dead-lettered. A failing row never blocks the rows
// after it.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	started := s.now()
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(rows) > 0

		publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		pending := make([]inflight, 0, len(rows))
		for _, row := range rows {
			resolved, err := s.registry.Resolve(row)
			if err != nil {
				if err := s.deadLetter(ctx, tx, row, nil, enums.OutboxDLQReasonNonRetryable, err); err != nil {
					return err
				}
				continue
			}
			pending = append(pending, inflight{row: row, resolved: resolved, result: s.send(publishCtx, row, resolved)})
		}
		for _, p := range pending {
			if err := s.settle(ctx, publishCtx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if processed {
		s.metrics.ObserveBatch(s.now().Sub(started))
	}
	return processed, err
}

func (s *Service) send(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) publishResult {
	pub := s.publishers(resolved.Descriptor.Topic)
	if pub == nil {
		return nil
	}
	return pub.Publish(ctx, toMessage(row, resolved.Envelope))
}

func (s *Service) settle(ctx, publishCtx context.Context, tx *gorm.DB, p inflight) error {
	topic := p.resolved.Descriptor.Topic
	if p.result == nil {
		cause := registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
		return s.deadLetter(ctx, tx, p.row, p.resolved, enums.OutboxDLQReasonNonRetryable, cause)
	}

	_, pubErr := p.result.Get(publishCtx)
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, p.row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", p.row.ID, err)
		}
		now := s.now()
		s.metrics.ObserveEvent(string(p.row.EventType), metrics.OutboxPublished)
		s.metrics.ObserveLag(p.row.CreatedAt, now)
		s.logg.Info(s.logg.WithFields(ctx, logFields(p.row, p.resolved)), "outbox event published")
		return nil
	}

	var permanent registry.NonRetryableError
	if errors.As(pubErr, &permanent) {
		return s.deadLetter(ctx, tx, p.row, p.resolved, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	attempt := p.row.AttemptCount + 1
	if attempt >= s.maxAttempts {
		cause := fmt.Errorf("max publish attempts reached: %w", pubErr)
		return s.deadLetter(ctx, tx, p.row, p.resolved, enums.OutboxDLQReasonMaxAttempts, cause)
	}

	fields := logFields(p.row, p.resolved)
	fields["attempt_count"] = attempt
	fields["error"] = pubErr.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	s.metrics.ObserveEvent(string(p.row.EventType), metrics.OutboxRetry)
	if err := s.repo.MarkFailedTx(tx, p.row.ID, pubErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", p.row.ID, err)
	}
	return nil
}

// deadLetter copies the row into outbox_dlq and parks it so it is never
// fetched again. resolved is nil when the row could not be decoded.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, resolved *registry.ResolvedEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	fields := logFields(row, resolved)
	fields["error_reason"] = reason
	fields["error"] = msg
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, row.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	s.metrics.ObserveEvent(string(row.EventType), metrics.OutboxDeadLettered)
	return nil
}

func logFields(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	if resolved == nil {
		return fields
	}
	fields["topic"] = resolved.Descriptor.Topic
	if env := resolved.Envelope; env.EventID != "" {
		fields["event_id"] = env.EventID
		fields["occurred_at"] = env.OccurredAt.Format(time.RFC3339Nano)
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
