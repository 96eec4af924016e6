package domain

import "context"

// SwapParams describes the swap a strategy should quote or build.
type SwapParams struct {
	OwnerID  string
	Token    string
	Side     OrderSide
	Amount   float64 // input amount in base units
	Slippage float64 // tolerated slippage, as a fraction
}

// SwapQuote is a venue's answer to a quote request.
type SwapQuote struct {
	InputAmount  float64
	OutputAmount float64
	PriceImpact  float64 // fraction, e.g. 0.03 for 3%
	Fee          float64
	Route        []string
}

// UnsignedTx is an opaque, venue-built transaction ready for signing and
// submission by the chain layer.
type UnsignedTx struct {
	Payload   []byte
	Blockhash string
}

// ExecutionSettings tunes a single swap submission.
type ExecutionSettings struct {
	PriorityFee  float64 // per-transaction priority fee in base units
	MEVProtected bool
	Tip          float64 // bundle tip when submitting through the protected path
}

// SwapStrategy builds and executes swaps for one market class. Concrete
// venue math lives behind this interface; the engine and execution service
// never depend on a particular venue.
//
// The execution service drives the staged BuildTransaction/Submit path so
// it controls fees, bundling, and confirmation itself. ExecuteSwap is the
// single-shot entry point for venue-direct callers such as scripts and
// manual tooling.
type SwapStrategy interface {
	CanTrade(ctx context.Context, token string) (bool, error)
	GetQuote(ctx context.Context, p SwapParams) (SwapQuote, error)
	BuildTransaction(ctx context.Context, p SwapParams) (UnsignedTx, error)
	ExecuteSwap(ctx context.Context, p SwapParams, s ExecutionSettings) (string, error)
}
