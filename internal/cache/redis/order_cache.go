package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solwatch/tokenbot/internal/domain"
)

// OrderCache implements domain.OrderCache using JSON values with a TTL.
// The order store's cached decorator reads through this cache and
// invalidates on every write.
type OrderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOrderCache creates an OrderCache backed by the given Client. Cached
// entries expire after ttl even without invalidation, bounding staleness
// if an invalidation is ever lost.
func NewOrderCache(c *Client, ttl time.Duration) *OrderCache {
	return &OrderCache{rdb: c.Underlying(), ttl: ttl}
}

func orderKey(id string) string {
	return "order:" + id
}

// Get retrieves a cached order. It returns domain.ErrNotFound on a miss.
func (oc *OrderCache) Get(ctx context.Context, id string) (domain.Order, error) {
	raw, err := oc.rdb.Get(ctx, orderKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("redis: get order %s: %w", id, err)
	}

	var o domain.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return domain.Order{}, fmt.Errorf("redis: decode order %s: %w", id, err)
	}
	return o, nil
}

// Set stores an order with the configured TTL.
func (oc *OrderCache) Set(ctx context.Context, o domain.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("redis: encode order %s: %w", o.ID, err)
	}
	if err := oc.rdb.Set(ctx, orderKey(o.ID), raw, oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set order %s: %w", o.ID, err)
	}
	return nil
}

// Invalidate drops the cached entry for an order.
func (oc *OrderCache) Invalidate(ctx context.Context, id string) error {
	if err := oc.rdb.Del(ctx, orderKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate order %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderCache = (*OrderCache)(nil)
