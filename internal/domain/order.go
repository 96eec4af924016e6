package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuting OrderStatus = "executing"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusError     OrderStatus = "error"
	// OrderStatusInactive marks a take-profit leg waiting for its paired
	// buy order to fill before it becomes eligible for monitoring.
	OrderStatusInactive OrderStatus = "inactive"
)

// IsTerminal reports whether the status can never change again. An order in
// error status is not terminal: it may be retried or cancelled by the operator.
func (st OrderStatus) IsTerminal() bool {
	switch st {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Order represents a conditional or immediate trading instruction for a
// single token. Buy orders may carry a linked take-profit sell leg; the two
// records reference each other by ID and are created and cancelled together.
type Order struct {
	ID      string
	OwnerID string
	Token   string // base58 mint address
	Side    OrderSide
	Class   TokenClass // market class at creation time

	Amount            float64 // input amount in base units
	TargetPrice       float64
	Slippage          float64 // tolerated execution slippage, as a fraction
	TakeProfitPercent float64 // 0 when no take-profit leg was requested

	Status OrderStatus

	FilledAmount float64
	FilledPrice  float64
	TxRef        string
	Fee          float64

	LinkedBuyOrderID        *string
	LinkedTakeProfitOrderID *string
	LinkedPositionID        *string

	RetryCount  int
	LastRetryAt *time.Time
	LastError   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanCancel reports whether the order may be cancelled by the operator.
func (o Order) CanCancel() bool {
	return o.Status == OrderStatusPending
}

// HasLinkedLeg reports whether the order is half of a buy/take-profit pair.
func (o Order) HasLinkedLeg() bool {
	return o.LinkedBuyOrderID != nil || o.LinkedTakeProfitOrderID != nil
}

// OrderParams carries everything needed to create a new order. Validation
// happens in the engine before anything is persisted.
type OrderParams struct {
	OwnerID           string
	Token             string
	Side              OrderSide
	Amount            float64
	TargetPrice       float64
	Slippage          float64
	TakeProfitPercent float64
}

// OrderStats summarises the repository for status endpoints and operator
// commands.
type OrderStats struct {
	ByStatus map[OrderStatus]int
	Total    int
}

// ExecutionResult reports the outcome of a completed swap execution.
type ExecutionResult struct {
	TxRef        string
	FilledAmount float64
	FilledPrice  float64
	Fee          float64
	Attempts     int
}
