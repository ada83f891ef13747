// Package idempotency claims event ids in Redis so a delivery that arrives
// twice, or on two replicas at once, is handled a single time.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the Redis subset a Guard needs; *redis.Client satisfies it.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	IdempotencyKey(scope, id string) string
}

// Guard claims ids within one scope, typically one consumer or webhook
// endpoint. Claims are stamped with the guard's owner token and only the
// owner can release them.
type Guard struct {
	store Store
	scope string
	ttl   time.Duration
	owner string
}

func NewGuard(store Store, scope string, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("idempotency scope is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, scope: scope, ttl: ttl, owner: uuid.NewString()}, nil
}

// Claim reports whether the caller is the first to see id. False means the id
// is already claimed and the delivery should be acknowledged as a duplicate.
func (g *Guard) Claim(ctx context.Context, id string) (bool, error) {
	key, err := g.key(id)
	if err != nil {
		return false, err
	}
	claimed, err := g.store.SetNX(ctx, key, g.owner, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}

// Release drops a claim this guard holds so a redelivery is processed again.
// Claims taken by other guards are left in place.
func (g *Guard) Release(ctx context.Context, id string) error {
	key, err := g.key(id)
	if err != nil {
		return err
	}
	if _, err := g.store.CompareAndDelete(ctx, key, g.owner); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (g *Guard) Scope() string {
	return g.scope
}

func (g *Guard) key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(g.scope, id), nil
}
