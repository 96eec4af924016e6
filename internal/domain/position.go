package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// SizeEpsilon is the tolerance below which a position size is snapped to
// zero to absorb floating-point residue from repeated partial sells.
const SizeEpsilon = 1e-9

// Position is the running inventory for one (owner, token) pair. EntryPrice
// is the size-weighted average across all buys since the position was last
// opened; it is left untouched by sells and reset to zero on close.
type Position struct {
	ID         string
	OwnerID    string
	Token      string
	EntryPrice float64
	Size       float64
	Status     PositionStatus

	OpenTxRef      string
	ExitPrice      *float64
	ExitTxRef      *string
	RealizedPnLPct *float64

	OpenedAt  time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// IsOpen reports whether the position currently holds inventory.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// PnLPct returns the percentage gain or loss of the position at the given
// price relative to its weighted entry. Zero-entry positions report zero.
func (p Position) PnLPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// Trade is one append-only ledger row per fill. Trades are never mutated or
// deleted; the archiver may move old rows to cold storage.
type Trade struct {
	ID         string
	PositionID string
	OwnerID    string
	Token      string
	Side       OrderSide
	Price      float64
	Size       float64
	TxRef      string
	Timestamp  time.Time
}
