package exec

import (
	"context"

	"github.com/solwatch/tokenbot/internal/domain"
)

// feeModel prices the per-transaction priority fee off recent congestion,
// clamped to a configured floor and ceiling.
type feeModel struct {
	oracle  domain.FeeOracle
	floor   float64
	ceiling float64
}

// priorityFee bids slightly above the recent 75th percentile so the
// submission lands near the front of the fee market without overpaying.
// When the oracle is unavailable the floor is used.
func (f feeModel) priorityFee(ctx context.Context) float64 {
	if f.oracle == nil {
		return f.floor
	}

	congestion, err := f.oracle.RecentCongestion(ctx)
	if err != nil {
		return f.floor
	}

	fee := congestion.P75 * 1.1
	if fee < f.floor {
		fee = f.floor
	}
	if f.ceiling > 0 && fee > f.ceiling {
		fee = f.ceiling
	}
	return fee
}
