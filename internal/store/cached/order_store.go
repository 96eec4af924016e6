// Package cached decorates the persistent order store with a read-through
// cache. Only single-order reads are cached; list queries always hit the
// store.
package cached

import (
	"context"
	"log/slog"

	"github.com/solwatch/tokenbot/internal/domain"
)

// OrderStore wraps a domain.OrderStore and serves GetByID from the cache
// when possible. Every write path invalidates the touched IDs, so a stale
// entry lives at most one write.
type OrderStore struct {
	domain.OrderStore

	cache  domain.OrderCache
	logger *slog.Logger
}

// NewOrderStore wraps the given store with the cache.
func NewOrderStore(store domain.OrderStore, cache domain.OrderCache, logger *slog.Logger) *OrderStore {
	return &OrderStore{
		OrderStore: store,
		cache:      cache,
		logger:     logger.With(slog.String("component", "cached_order_store")),
	}
}

// GetByID serves from the cache and falls back to the store on a miss.
// Cache failures are logged and treated as misses.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	o, err := s.cache.Get(ctx, id)
	if err == nil {
		return o, nil
	}

	o, err = s.OrderStore.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.cache.Set(ctx, o); err != nil {
		s.logger.Warn("cache set failed", slog.String("order_id", id), slog.Any("error", err))
	}
	return o, nil
}

func (s *OrderStore) invalidate(ctx context.Context, ids ...string) {
	for _, id := range ids {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.Warn("cache invalidate failed", slog.String("order_id", id), slog.Any("error", err))
		}
	}
}

// Update writes through and invalidates the entry.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	if err := s.OrderStore.Update(ctx, o); err != nil {
		return err
	}
	s.invalidate(ctx, o.ID)
	return nil
}

// UpdateStatus writes through and invalidates the entry.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	if err := s.OrderStore.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// Delete writes through and invalidates the entry.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	if err := s.OrderStore.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// UpdateLinked writes through and invalidates both legs.
func (s *OrderStore) UpdateLinked(ctx context.Context, a, b domain.Order) error {
	if err := s.OrderStore.UpdateLinked(ctx, a, b); err != nil {
		return err
	}
	s.invalidate(ctx, a.ID, b.ID)
	return nil
}

// CancelLinked writes through and invalidates every cancelled leg.
func (s *OrderStore) CancelLinked(ctx context.Context, id string) ([]string, error) {
	cancelled, err := s.OrderStore.CancelLinked(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cancelled...)
	return cancelled, nil
}

// BatchUpdateStatus writes through and invalidates every listed ID.
func (s *OrderStore) BatchUpdateStatus(ctx context.Context, ids []string, status domain.OrderStatus) error {
	if err := s.OrderStore.BatchUpdateStatus(ctx, ids, status); err != nil {
		return err
	}
	s.invalidate(ctx, ids...)
	return nil
}

// BatchUpdate writes through and invalidates every updated order.
func (s *OrderStore) BatchUpdate(ctx context.Context, orders []domain.Order) error {
	if err := s.OrderStore.BatchUpdate(ctx, orders); err != nil {
		return err
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	s.invalidate(ctx, ids...)
	return nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
