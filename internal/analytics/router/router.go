package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/localcommerce-settlement/internal/analytics/types"
	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer stores one warehouse row per event.
type Writer interface {
	InsertSettlement(ctx context.Context, row types.SettlementRow) error
}

// Handler receives an envelope with its payload already decoded into the
// event's concrete type.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type route struct {
	decode  func(json.RawMessage) (any, error)
	handler Handler
}

// Router decodes analytics envelopes and hands them to the handler for their
// event type.
type Router struct {
	routes map[enums.OutboxEventType]route
	logg   *logger.Logger
}

// NewRouter maps settled, audited and failed orders to settlement rows.
// overrides replace the handler for an already routed event type.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	r := &Router{routes: make(map[enums.OutboxEventType]route), logg: logg}
	addRoute(r, enums.EventOrderSettled, writer, settledRow)
	addRoute(r, enums.EventOrderSettlementAudit, writer, auditRow)
	addRoute(r, enums.EventOrderPaymentFailed, writer, failedRow)

	for eventType, h := range overrides {
		rt, ok := r.routes[eventType]
		if !ok || h == nil {
			continue
		}
		rt.handler = h
		r.routes[eventType] = rt
	}
	return r, nil
}

// addRoute registers event type T: payloads decode into *T and build maps
// them to the row handed to writer.
func addRoute[T any](r *Router, eventType enums.OutboxEventType, writer Writer, build func(types.Envelope, *T) (types.SettlementRow, error)) {
	r.routes[eventType] = route{
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
		handler: rowHandler[T]{writer: writer, build: build, logg: r.logg},
	}
}

// Handle decodes the envelope payload and dispatches it.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload, err := rt.decode(envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return rt.handler.Handle(ctx, envelope, payload)
}

type rowHandler[T any] struct {
	writer Writer
	build  func(types.Envelope, *T) (types.SettlementRow, error)
	logg   *logger.Logger
}

func (h rowHandler[T]) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*T)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", payload, envelope.EventType)
	}
	row, err := h.build(envelope, event)
	if err != nil {
		return err
	}
	ctx = h.logg.WithFields(ctx, map[string]any{"event_id": envelope.EventID, "order_id": row.OrderID, "outcome": row.Outcome})
	h.logg.Debug(ctx, "writing settlement row")
	return h.writer.InsertSettlement(ctx, row)
}
