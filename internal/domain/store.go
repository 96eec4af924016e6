package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists orders. Multi-record operations (linked pairs, batch
// updates) run inside a single storage transaction so a partial failure
// never leaves a half-linked pair behind.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Order, error)
	ListByStatus(ctx context.Context, status OrderStatus) ([]Order, error)
	ListActiveByOwner(ctx context.Context, ownerID string) ([]Order, error)
	// GetLinked returns the other half of a buy/take-profit pair, or
	// ErrNotFound when the order has no linked leg.
	GetLinked(ctx context.Context, id string) (Order, error)
	ListByPosition(ctx context.Context, positionID string) ([]Order, error)
	List(ctx context.Context, opts ListOpts) ([]Order, error)
	Update(ctx context.Context, o Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
	Stats(ctx context.Context) (OrderStats, error)
	// ListForMonitoring returns every order the polling loop must evaluate:
	// all pending orders, oldest first.
	ListForMonitoring(ctx context.Context) ([]Order, error)

	// CreateWithTakeProfit persists a buy order and its inactive take-profit
	// leg, including the bidirectional link, in one transaction.
	CreateWithTakeProfit(ctx context.Context, buy, takeProfit Order) error
	// UpdateLinked persists both halves of a pair in one transaction.
	UpdateLinked(ctx context.Context, a, b Order) error
	// CancelLinked cancels the order and, when the linked leg is still
	// pending or inactive, cancels it too, in one transaction. It returns
	// the IDs actually cancelled.
	CancelLinked(ctx context.Context, id string) ([]string, error)

	BatchUpdateStatus(ctx context.Context, ids []string, status OrderStatus) error
	BatchUpdate(ctx context.Context, orders []Order) error
}

// PositionStore persists positions and their trades. ApplyTrade is the only
// mutation path used by the ledger and runs position upsert plus trade
// insert in one transaction.
type PositionStore interface {
	GetByOwnerToken(ctx context.Context, ownerID, token string) (Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context, ownerID string) ([]Position, error)
	ListHistory(ctx context.Context, ownerID string, opts ListOpts) ([]Position, error)
	ApplyTrade(ctx context.Context, pos Position, trade Trade) error
}

// TradeStore reads the append-only trade ledger.
type TradeStore interface {
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]Trade, error)
	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Trade, error)
	// ListBefore returns trades older than the cutoff, used by the archiver.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
