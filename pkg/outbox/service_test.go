package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
)

func TestEmitWritesEnvelope(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{Kind: "webhook", ID: "evt_1"},
			Data:          map[string]any{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListForAggregate(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.NotEmpty(t, envelope.EventID)
	require.Equal(t, rows[0].ID.String(), envelope.EventID)
	require.Equal(t, "webhook", envelope.Actor.Kind)
	require.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(envelope.Data))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]string{"reason": "declined"},
		}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	rows, err := repo.ListForAggregate(context.Background(), orderID)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestEmitValidation(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderSettled}))
	require.Error(t, svc.Emit(context.Background(), db, DomainEvent{EventType: "order_refunded"}))
	require.Error(t, svc.Emit(context.Background(), db, DomainEvent{EventType: enums.EventOrderSettled, Data: map[string]string{}}))
	require.Error(t, svc.Emit(context.Background(), db, DomainEvent{EventType: enums.EventOrderSettled, AggregateType: enums.AggregateOrder}))

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEmitUsesFixedClock(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	svc.now = func() time.Time { return fixed }
	orderID := uuid.New()

	require.NoError(t, svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data:          map[string]string{"order_id": orderID.String()},
	}))

	rows, err := repo.ListForAggregate(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.True(t, envelope.OccurredAt.Equal(fixed))
	require.Equal(t, time.UTC, envelope.OccurredAt.Location())
}

func TestPublishLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(ctx, db, DomainEvent{
			EventType:     enums.EventOrderSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"n": i},
		}))
	}

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, repo.MarkPublishedTx(db, rows[0].ID))
	require.NoError(t, repo.MarkFailedTx(db, rows[1].ID, errors.New("unavailable")))
	require.NoError(t, repo.MarkTerminalTx(db, rows[2].ID, errors.New("bad payload"), 3))

	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].AttemptCount)
	require.Equal(t, "unavailable", *rows[0].LastError)

	deleted, err := repo.DeletePublishedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.Equal(t, int64(2), remaining)
}

func TestDLQInsertTruncatesMessage(t *testing.T) {
	db := dbtest.Open(t)
	dlq := NewDLQRepository(db)
	long := make([]byte, maxDLQErrorLen+100)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)
	eventID := uuid.New()

	require.NoError(t, dlq.InsertTx(db, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
	}))

	entry, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.Len(t, *entry.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDLQRequeueRearmsOutboxRow(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := NewRepository(db)
	dlq := NewDLQRepository(db)

	event := models.OutboxEvent{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(db, event))
	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored).Error)
	require.NoError(t, repo.MarkTerminalTx(db, stored.ID, errors.New("topic missing"), 5))

	msg := "topic missing"
	require.NoError(t, dlq.InsertTx(db, models.OutboxDLQ{
		EventID:       stored.ID,
		EventType:     stored.EventType,
		AggregateType: stored.AggregateType,
		AggregateID:   stored.AggregateID,
		Payload:       stored.Payload,
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
	}))

	recent, err := dlq.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	require.NoError(t, dlq.Requeue(ctx, stored.ID))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Zero(t, rows[0].AttemptCount)
	require.Nil(t, rows[0].LastError)

	entry, err := dlq.FindByEventID(ctx, stored.ID)
	require.NoError(t, err)
	require.Nil(t, entry)

	require.ErrorIs(t, dlq.Requeue(ctx, stored.ID), ErrDLQEntryNotFound)
}
