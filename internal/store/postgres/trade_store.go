package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/tokenbot/internal/domain"
)

// TradeStore reads the append-only trades table. Writes go through
// PositionStore.ApplyTrade so a trade is never persisted without its
// position update.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, owner_id, token, side, price, size, tx_ref, ts`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		err := rows.Scan(&t.ID, &t.PositionID, &t.OwnerID, &t.Token,
			&side, &t.Price, &t.Size, &t.TxRef, &t.Timestamp)
		if err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListByPosition returns a position's trades in time order.
func (s *TradeStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE position_id = $1 ORDER BY ts`
	args := []any{positionID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by position: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by position: %w", err)
	}
	return trades, nil
}

// ListByOwner returns an owner's trades, newest first.
func (s *TradeStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE owner_id = $1 ORDER BY ts DESC`
	args := []any{ownerID}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list trades by owner: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by owner: %w", err)
	}
	return trades, nil
}

// ListBefore returns up to limit trades older than the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE ts < $1 ORDER BY ts LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before cutoff: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before cutoff: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades older than the cutoff and returns the count.
// Called by the archiver after the rows were written to cold storage.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before cutoff: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
