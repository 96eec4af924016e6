package domain

import (
	"context"
	"time"
)

// OrderCache is the read-through cache in front of the order store. Writes
// to the store must invalidate the cached entry.
type OrderCache interface {
	Get(ctx context.Context, id string) (Order, error)
	Set(ctx context.Context, o Order) error
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides per-key request limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides keyed locking with a TTL, used to guard a single
// order against double dispatch across polling and stream-driven paths.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for order, position, and price events consumed
// by the front end.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Archiver writes batches of records to cold storage.
type Archiver interface {
	ArchiveJSONL(ctx context.Context, key string, records []any) error
}
