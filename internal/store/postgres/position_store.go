package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/tokenbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. One row
// exists per (owner, token); closing and reopening reuses the row, the trade
// ledger keeps the full history.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner_id, token, entry_price, size, status,
	open_tx_ref, exit_price, exit_tx_ref, realized_pnl_pct,
	opened_at, updated_at, closed_at`

func scanPosition(scanner interface{ Scan(dest ...any) error }) (domain.Position, error) {
	var p domain.Position
	var status string

	err := scanner.Scan(
		&p.ID, &p.OwnerID, &p.Token, &p.EntryPrice, &p.Size, &status,
		&p.OpenTxRef, &p.ExitPrice, &p.ExitTxRef, &p.RealizedPnLPct,
		&p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Status = domain.PositionStatus(status)
	return p, nil
}

// GetByOwnerToken retrieves the position for an (owner, token) pair.
func (s *PositionStore) GetByOwnerToken(ctx context.Context, ownerID, token string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner_id = $1 AND token = $2`, ownerID, token)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", ownerID, token, err)
	}
	return p, nil
}

// GetByID retrieves a position by ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns the owner's open positions.
func (s *PositionStore) ListOpen(ctx context.Context, ownerID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner_id = $1 AND status = 'open' ORDER BY opened_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListHistory returns the owner's closed positions with pagination.
func (s *PositionStore) ListHistory(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		 WHERE owner_id = $1 AND status = 'closed' ORDER BY closed_at DESC`
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
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position history: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ApplyTrade upserts the position and appends the trade in one transaction.
// The ledger computes the new position state; the store only persists it.
func (s *PositionStore) ApplyTrade(ctx context.Context, pos domain.Position, trade domain.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin apply trade: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (
			id, owner_id, token, entry_price, size, status,
			open_tx_ref, exit_price, exit_tx_ref, realized_pnl_pct,
			opened_at, updated_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), $12)
		ON CONFLICT (owner_id, token) DO UPDATE SET
			entry_price = EXCLUDED.entry_price,
			size = EXCLUDED.size,
			status = EXCLUDED.status,
			open_tx_ref = EXCLUDED.open_tx_ref,
			exit_price = EXCLUDED.exit_price,
			exit_tx_ref = EXCLUDED.exit_tx_ref,
			realized_pnl_pct = EXCLUDED.realized_pnl_pct,
			opened_at = EXCLUDED.opened_at,
			updated_at = NOW(),
			closed_at = EXCLUDED.closed_at`,
		pos.ID, pos.OwnerID, pos.Token, pos.EntryPrice, pos.Size, string(pos.Status),
		pos.OpenTxRef, pos.ExitPrice, pos.ExitTxRef, pos.RealizedPnLPct,
		pos.OpenedAt, pos.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.ID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trades (id, position_id, owner_id, token, side, price, size, tx_ref, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trade.ID, trade.PositionID, trade.OwnerID, trade.Token,
		string(trade.Side), trade.Price, trade.Size, trade.TxRef, trade.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit apply trade: %w", err)
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
