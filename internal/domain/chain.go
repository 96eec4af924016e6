package domain

import (
	"context"
	"time"
)

// Congestion summarises recent network fee pressure. Values are priority
// fees observed over a recent window, in base units.
type Congestion struct {
	Median float64
	P75    float64
}

// FeeOracle reports recent network congestion so submissions can price
// their priority fee competitively.
type FeeOracle interface {
	RecentCongestion(ctx context.Context) (Congestion, error)
}

// TxSubmitter signs and submits a built transaction through the plain path.
// Signing and RPC transport are external collaborators.
type TxSubmitter interface {
	// Simulate dry-runs the transaction; a failure aborts before any
	// submission happens.
	Simulate(ctx context.Context, tx UnsignedTx) error
	Submit(ctx context.Context, tx UnsignedTx, priorityFee float64) (string, error)
}

// BundleSubmitter submits through an MEV-protected bundling path. Callers
// fall back to the plain TxSubmitter when bundling is disabled or fails.
type BundleSubmitter interface {
	SubmitBundle(ctx context.Context, tx UnsignedTx, tip float64) (string, error)
}

// Confirmation is the on-chain outcome of a submitted transaction.
type Confirmation struct {
	TxRef        string
	Slot         int64
	OutputAmount float64 // amount received by the swap, in base units
	ConfirmedAt  time.Time
}

// Confirmer polls for transaction finality. WaitForConfirmation returns
// ErrConfirmationTimeout when the deadline passes without a definitive
// answer; callers must not blindly resubmit after that.
type Confirmer interface {
	WaitForConfirmation(ctx context.Context, txRef string, timeout time.Duration) (Confirmation, error)
}
