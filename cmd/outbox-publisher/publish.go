package main

import (
	"context"
	"errors"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/localcommerce-settlement/pkg/db/models"
	"github.com/angelmondragon/localcommerce-settlement/pkg/outbox"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// topicPublishers hands out one publisher per topic. Each Pub/Sub publisher
// runs its own batching goroutines, so handles are kept for the process
// lifetime.
func topicPublishers(client pubSubClient) publisherFactory {
	var (
		mu    sync.Mutex
		byTop = make(map[string]publisher)
	)
	return func(topic string) publisher {
		mu.Lock()
		defer mu.Unlock()
		if pub, ok := byTop[topic]; ok {
			return pub
		}
		handle := client.Publisher(topic)
		if handle == nil {
			return nil
		}
		pub := pubsubPublisher{handle}
		byTop[topic] = pub
		return pub
	}
}

// toMessage sends the stored envelope unchanged. Consumers route on
// event_type and dedupe on event_id.
func toMessage(row models.OutboxEvent, envelope outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"outbox_id":      row.ID.String(),
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	attrs["event_id"] = envelope.EventID
	if attrs["event_id"] == "" {
		attrs["event_id"] = row.ID.String()
	}
	return &gcppubsub.Message{Data: row.Payload, Attributes: attrs}
}

type pubsubPublisher struct {
	p *gcppubsub.Publisher
}

func (p pubsubPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p.p == nil {
		return nil
	}
	res := p.p.Publish(ctx, msg)
	if res == nil {
		return nil
	}
	return pubsubResult{res}
}

type pubsubResult struct {
	r *gcppubsub.PublishResult
}

func (r pubsubResult) Get(ctx context.Context) (string, error) {
	if r.r == nil {
		return "", errors.New("publish result is nil")
	}
	return r.r.Get(ctx)
}
