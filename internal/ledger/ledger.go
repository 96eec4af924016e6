// Package ledger maintains per-(owner, token) positions and the append-only
// trade history behind them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solwatch/tokenbot/internal/domain"
)

// PriceGetter resolves a current market price for unrealized PnL.
type PriceGetter interface {
	GetPrice(ctx context.Context, token string) (domain.PriceQuote, error)
}

// keyedMutex serialises work per string key. Lock returns the unlock func
// for the key's mutex, creating it on first use.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Ledger applies fills to positions. Each (owner, token) pair is serialised
// by a keyed mutex around a read-compute-write cycle whose write is a single
// storage transaction, so concurrent fills can never interleave into a
// negative or double-counted position.
type Ledger struct {
	positions domain.PositionStore
	prices    PriceGetter
	locks     *keyedMutex
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates the ledger. prices may be nil when unrealized PnL is not
// needed.
func New(positions domain.PositionStore, prices PriceGetter, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: positions,
		prices:    prices,
		locks:     newKeyedMutex(),
		logger:    logger.With(slog.String("component", "position_ledger")),
		now:       time.Now,
	}
}

// RecordTrade applies one fill and returns the resulting position state.
// A BUY opens or extends the position with a size-weighted average entry; a
// SELL reduces it, closing when the remainder falls inside SizeEpsilon. A
// SELL larger than the held size fails with ErrInsufficientSize and mutates
// nothing.
func (l *Ledger) RecordTrade(ctx context.Context, ownerID, token string, side domain.OrderSide, price, size float64, txRef string) (domain.Position, error) {
	if size <= 0 {
		return domain.Position{}, fmt.Errorf("ledger: trade size must be positive: %w", domain.ErrInvalidOrder)
	}
	if price <= 0 {
		return domain.Position{}, fmt.Errorf("ledger: trade price must be positive: %w", domain.ErrInvalidPrice)
	}

	unlock := l.locks.Lock(ownerID + "|" + token)
	defer unlock()

	now := l.now()

	pos, err := l.positions.GetByOwnerToken(ctx, ownerID, token)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if side == domain.OrderSideSell {
			return domain.Position{}, fmt.Errorf("ledger: sell %s/%s with no position: %w",
				ownerID, token, domain.ErrInsufficientSize)
		}
		pos = domain.Position{
			ID:      uuid.NewString(),
			OwnerID: ownerID,
			Token:   token,
			Status:  domain.PositionStatusClosed,
		}
	case err != nil:
		return domain.Position{}, fmt.Errorf("ledger: load position %s/%s: %w", ownerID, token, err)
	}

	switch side {
	case domain.OrderSideBuy:
		pos = applyBuy(pos, price, size, txRef, now)
	case domain.OrderSideSell:
		pos, err = applySell(pos, price, size, txRef, now)
		if err != nil {
			return domain.Position{}, err
		}
	default:
		return domain.Position{}, fmt.Errorf("ledger: bad trade side %q: %w", side, domain.ErrInvalidOrder)
	}

	trade := domain.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		OwnerID:    ownerID,
		Token:      token,
		Side:       side,
		Price:      price,
		Size:       size,
		TxRef:      txRef,
		Timestamp:  now,
	}

	if err := l.positions.ApplyTrade(ctx, pos, trade); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: apply trade %s: %w", trade.ID, err)
	}

	l.logger.Info("trade recorded",
		slog.String("position_id", pos.ID),
		slog.String("token", token),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("size", size),
		slog.Float64("position_size", pos.Size),
		slog.String("position_status", string(pos.Status)))

	return pos, nil
}

// applyBuy extends an open position with a weighted average entry, or
// (re)opens a closed one fresh at the trade price.
func applyBuy(pos domain.Position, price, size float64, txRef string, now time.Time) domain.Position {
	if !pos.IsOpen() {
		pos.EntryPrice = price
		pos.Size = size
		pos.Status = domain.PositionStatusOpen
		pos.OpenTxRef = txRef
		pos.ExitPrice = nil
		pos.ExitTxRef = nil
		pos.RealizedPnLPct = nil
		pos.OpenedAt = now
		pos.ClosedAt = nil
		pos.UpdatedAt = now
		return pos
	}

	newSize := pos.Size + size
	pos.EntryPrice = (pos.EntryPrice*pos.Size + price*size) / newSize
	pos.Size = newSize
	pos.UpdatedAt = now
	return pos
}

// applySell reduces the position, snapping residue inside SizeEpsilon to an
// exact close with realized PnL.
func applySell(pos domain.Position, price, size float64, txRef string, now time.Time) (domain.Position, error) {
	if !pos.IsOpen() || size > pos.Size+domain.SizeEpsilon {
		return domain.Position{}, fmt.Errorf("ledger: sell %v against held %v: %w",
			size, pos.Size, domain.ErrInsufficientSize)
	}

	remaining := pos.Size - size
	if remaining < domain.SizeEpsilon {
		pnl := pos.PnLPct(price)
		pos.Size = 0
		pos.Status = domain.PositionStatusClosed
		pos.ExitPrice = &price
		pos.ExitTxRef = &txRef
		pos.RealizedPnLPct = &pnl
		pos.EntryPrice = 0
		pos.ClosedAt = &now
		pos.UpdatedAt = now
		return pos, nil
	}

	pos.Size = remaining
	pos.UpdatedAt = now
	return pos, nil
}

// UnrealizedPnL returns the open position's percentage gain or loss at the
// current market price.
func (l *Ledger) UnrealizedPnL(ctx context.Context, ownerID, token string) (float64, error) {
	pos, err := l.positions.GetByOwnerToken(ctx, ownerID, token)
	if err != nil {
		return 0, fmt.Errorf("ledger: unrealized pnl %s/%s: %w", ownerID, token, err)
	}
	if !pos.IsOpen() {
		return 0, fmt.Errorf("ledger: unrealized pnl on closed position: %w", domain.ErrInvalidState)
	}

	quote, err := l.prices.GetPrice(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("ledger: price for unrealized pnl: %w", err)
	}
	return pos.PnLPct(quote.Price), nil
}
