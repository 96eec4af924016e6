package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/tokenbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Multi-record
// operations run inside a single transaction.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, owner_id, token, side, token_class,
	amount, target_price, slippage, take_profit_pct, status,
	filled_amount, filled_price, tx_ref, fee,
	linked_buy_order_id, linked_tp_order_id, linked_position_id,
	retry_count, last_retry_at, last_error, created_at, updated_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, class, status string

	err := scanner.Scan(
		&o.ID, &o.OwnerID, &o.Token, &side, &class,
		&o.Amount, &o.TargetPrice, &o.Slippage, &o.TakeProfitPercent, &status,
		&o.FilledAmount, &o.FilledPrice, &o.TxRef, &o.Fee,
		&o.LinkedBuyOrderID, &o.LinkedTakeProfitOrderID, &o.LinkedPositionID,
		&o.RetryCount, &o.LastRetryAt, &o.LastError, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Class = domain.TokenClass(class)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

const orderInsertSQL = `
	INSERT INTO orders (
		id, owner_id, token, side, token_class,
		amount, target_price, slippage, take_profit_pct, status,
		filled_amount, filled_price, tx_ref, fee,
		linked_buy_order_id, linked_tp_order_id, linked_position_id,
		retry_count, last_retry_at, last_error, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13, $14,
		$15, $16, $17,
		$18, $19, $20, $21, NOW()
	)`

func orderInsertArgs(o domain.Order) []any {
	return []any{
		o.ID, o.OwnerID, o.Token, string(o.Side), string(o.Class),
		o.Amount, o.TargetPrice, o.Slippage, o.TakeProfitPercent, string(o.Status),
		o.FilledAmount, o.FilledPrice, o.TxRef, o.Fee,
		o.LinkedBuyOrderID, o.LinkedTakeProfitOrderID, o.LinkedPositionID,
		o.RetryCount, o.LastRetryAt, o.LastError, o.CreatedAt,
	}
}

const orderUpdateSQL = `
	UPDATE orders SET
		status = $2, amount = $3, target_price = $4, slippage = $5,
		take_profit_pct = $6, filled_amount = $7, filled_price = $8,
		tx_ref = $9, fee = $10,
		linked_buy_order_id = $11, linked_tp_order_id = $12, linked_position_id = $13,
		retry_count = $14, last_retry_at = $15, last_error = $16,
		updated_at = NOW()
	WHERE id = $1`

func orderUpdateArgs(o domain.Order) []any {
	return []any{
		o.ID, string(o.Status), o.Amount, o.TargetPrice, o.Slippage,
		o.TakeProfitPercent, o.FilledAmount, o.FilledPrice,
		o.TxRef, o.Fee,
		o.LinkedBuyOrderID, o.LinkedTakeProfitOrderID, o.LinkedPositionID,
		o.RetryCount, o.LastRetryAt, o.LastError,
	}
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	if _, err := s.pool.Exec(ctx, orderInsertSQL, orderInsertArgs(o)...); err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByOwner returns orders for an owner with pagination.
func (s *OrderStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE owner_id = $1`
	args := []any{ownerID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by owner: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by owner: %w", err)
	}
	return orders, nil
}

// ListByStatus returns all orders currently in the given status.
func (s *OrderStore) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE status = $1 ORDER BY created_at`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by status: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by status: %w", err)
	}
	return orders, nil
}

// ListActiveByOwner returns the owner's pending, executing, and inactive
// orders, newest first.
func (s *OrderStore) ListActiveByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE owner_id = $1 AND status IN ('pending', 'executing', 'inactive')
		 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active orders: %w", err)
	}
	return orders, nil
}

// GetLinked returns the other half of a buy/take-profit pair.
func (s *OrderStore) GetLinked(ctx context.Context, id string) (domain.Order, error) {
	o, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	var linkedID string
	switch {
	case o.LinkedTakeProfitOrderID != nil:
		linkedID = *o.LinkedTakeProfitOrderID
	case o.LinkedBuyOrderID != nil:
		linkedID = *o.LinkedBuyOrderID
	default:
		return domain.Order{}, domain.ErrNotFound
	}

	return s.GetByID(ctx, linkedID)
}

// ListByPosition returns orders linked to a position.
func (s *OrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE linked_position_id = $1 ORDER BY created_at`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by position: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by position: %w", err)
	}
	return orders, nil
}

// List returns all orders with pagination, newest first.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// Update persists every mutable field of an order.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	tag, err := s.pool.Exec(ctx, orderUpdateSQL, orderUpdateArgs(o)...)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus changes only the status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes an order.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteByOwner removes all of an owner's orders and returns the count.
func (s *OrderStore) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders for owner %s: %w", ownerID, err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns per-status counts and the total.
func (s *OrderStore) Stats(ctx context.Context) (domain.OrderStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return domain.OrderStats{}, fmt.Errorf("postgres: order stats: %w", err)
	}
	defer rows.Close()

	stats := domain.OrderStats{ByStatus: make(map[domain.OrderStatus]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.OrderStats{}, fmt.Errorf("postgres: scan order stats: %w", err)
		}
		stats.ByStatus[domain.OrderStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return domain.OrderStats{}, fmt.Errorf("postgres: order stats rows: %w", err)
	}
	return stats, nil
}

// ListForMonitoring returns every pending order, oldest first, so long-lived
// orders are evaluated before fresh ones.
func (s *OrderStore) ListForMonitoring(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for monitoring: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders for monitoring: %w", err)
	}
	return orders, nil
}

// CreateWithTakeProfit persists a buy order and its inactive take-profit leg
// with the bidirectional link in one transaction.
func (s *OrderStore) CreateWithTakeProfit(ctx context.Context, buy, takeProfit domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create pair: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, orderInsertSQL, orderInsertArgs(buy)...); err != nil {
		return fmt.Errorf("postgres: create buy leg %s: %w", buy.ID, err)
	}
	if _, err := tx.Exec(ctx, orderInsertSQL, orderInsertArgs(takeProfit)...); err != nil {
		return fmt.Errorf("postgres: create take-profit leg %s: %w", takeProfit.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create pair: %w", err)
	}
	return nil
}

// UpdateLinked persists both halves of a pair in one transaction.
func (s *OrderStore) UpdateLinked(ctx context.Context, a, b domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update pair: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, o := range []domain.Order{a, b} {
		tag, err := tx.Exec(ctx, orderUpdateSQL, orderUpdateArgs(o)...)
		if err != nil {
			return fmt.Errorf("postgres: update pair leg %s: %w", o.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update pair: %w", err)
	}
	return nil
}

// CancelLinked cancels the order and, when its linked leg is still pending
// or inactive, cancels that too, all in one transaction. It returns the IDs
// actually cancelled.
func (s *OrderStore) CancelLinked(ctx context.Context, id string) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin cancel pair: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: lock order %s: %w", id, err)
	}

	cancelled := []string{o.ID}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'cancelled', updated_at = NOW() WHERE id = $1`,
		o.ID); err != nil {
		return nil, fmt.Errorf("postgres: cancel order %s: %w", o.ID, err)
	}

	var linkedID *string
	switch {
	case o.LinkedTakeProfitOrderID != nil:
		linkedID = o.LinkedTakeProfitOrderID
	case o.LinkedBuyOrderID != nil:
		linkedID = o.LinkedBuyOrderID
	}

	if linkedID != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET status = 'cancelled', updated_at = NOW()
			 WHERE id = $1 AND status IN ('pending', 'inactive')`,
			*linkedID)
		if err != nil {
			return nil, fmt.Errorf("postgres: cancel linked order %s: %w", *linkedID, err)
		}
		if tag.RowsAffected() > 0 {
			cancelled = append(cancelled, *linkedID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit cancel pair: %w", err)
	}
	return cancelled, nil
}

// BatchUpdateStatus sets the same status on every listed order in one
// transaction.
func (s *OrderStore) BatchUpdateStatus(ctx context.Context, ids []string, status domain.OrderStatus) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = ANY($2)`,
		string(status), ids)
	if err != nil {
		return fmt.Errorf("postgres: batch update status: %w", err)
	}
	return nil
}

// BatchUpdate persists a batch of orders in one transaction.
func (s *OrderStore) BatchUpdate(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin batch update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, o := range orders {
		if _, err := tx.Exec(ctx, orderUpdateSQL, orderUpdateArgs(o)...); err != nil {
			return fmt.Errorf("postgres: batch update order %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit batch update: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
