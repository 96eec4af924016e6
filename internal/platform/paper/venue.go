// Package paper is an in-process venue used by paper mode and tests. It
// fills swaps instantly at the aggregator's current price with a small
// synthetic impact, and answers the chain-layer interfaces without touching
// a network.
package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solwatch/tokenbot/internal/domain"
)

// PriceFunc resolves the current market price for a token.
type PriceFunc func(ctx context.Context, token string) (float64, error)

// Venue implements SwapStrategy, TxSubmitter, BundleSubmitter, Confirmer,
// and FeeOracle against an internal fill book instead of a chain.
type Venue struct {
	priceFn PriceFunc
	logger  *slog.Logger

	// impactPerUnit scales the synthetic price impact with swap size.
	impactPerUnit float64
	// feeRate is the venue fee as a fraction of input.
	feeRate float64

	mu    sync.Mutex
	fills map[string]domain.Confirmation // by txRef
	slot  int64
}

// NewVenue creates a paper venue that fills at prices from priceFn.
func NewVenue(priceFn PriceFunc, logger *slog.Logger) *Venue {
	return &Venue{
		priceFn:       priceFn,
		logger:        logger.With(slog.String("component", "paper_venue")),
		impactPerUnit: 1e-6,
		feeRate:       0.0025,
		fills:         make(map[string]domain.Confirmation),
	}
}

// CanTrade reports whether the venue can price the token right now.
func (v *Venue) CanTrade(ctx context.Context, token string) (bool, error) {
	_, err := v.priceFn(ctx, token)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// GetQuote prices the swap at the current market price with a size-scaled
// synthetic impact.
func (v *Venue) GetQuote(ctx context.Context, p domain.SwapParams) (domain.SwapQuote, error) {
	price, err := v.priceFn(ctx, p.Token)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("paper: quote %s: %w", p.Token, err)
	}

	impact := p.Amount * v.impactPerUnit
	if impact > 0.99 {
		impact = 0.99
	}
	fee := p.Amount * v.feeRate

	var output float64
	if p.Side == domain.OrderSideBuy {
		output = (p.Amount - fee) / price * (1 - impact)
	} else {
		output = (p.Amount - fee) * price * (1 - impact)
	}

	return domain.SwapQuote{
		InputAmount:  p.Amount,
		OutputAmount: output,
		PriceImpact:  impact,
		Fee:          fee,
		Route:        []string{"paper"},
	}, nil
}

// paperTx is the payload of an unsigned paper transaction.
type paperTx struct {
	OwnerID  string           `json:"owner_id"`
	Token    string           `json:"token"`
	Side     domain.OrderSide `json:"side"`
	Amount   float64          `json:"amount"`
	Slippage float64          `json:"slippage"`
}

// BuildTransaction serialises the swap into an opaque payload.
func (v *Venue) BuildTransaction(ctx context.Context, p domain.SwapParams) (domain.UnsignedTx, error) {
	payload, err := json.Marshal(paperTx{
		OwnerID:  p.OwnerID,
		Token:    p.Token,
		Side:     p.Side,
		Amount:   p.Amount,
		Slippage: p.Slippage,
	})
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("paper: build tx: %w", err)
	}

	return domain.UnsignedTx{
		Payload:   payload,
		Blockhash: uuid.NewString(),
	}, nil
}

// ExecuteSwap builds, submits, and records the fill in one step.
func (v *Venue) ExecuteSwap(ctx context.Context, p domain.SwapParams, s domain.ExecutionSettings) (string, error) {
	tx, err := v.BuildTransaction(ctx, p)
	if err != nil {
		return "", err
	}
	return v.Submit(ctx, tx, s.PriorityFee)
}

// Simulate validates the payload without recording a fill.
func (v *Venue) Simulate(ctx context.Context, tx domain.UnsignedTx) error {
	var pt paperTx
	if err := json.Unmarshal(tx.Payload, &pt); err != nil {
		return fmt.Errorf("paper: simulate: %w", err)
	}
	if pt.Amount <= 0 {
		return fmt.Errorf("paper: simulate: %w", domain.ErrInvalidOrder)
	}
	if _, err := v.priceFn(ctx, pt.Token); err != nil {
		return fmt.Errorf("paper: simulate %s: %w", pt.Token, err)
	}
	return nil
}

// Submit fills the transaction immediately and records a confirmation.
func (v *Venue) Submit(ctx context.Context, tx domain.UnsignedTx, priorityFee float64) (string, error) {
	var pt paperTx
	if err := json.Unmarshal(tx.Payload, &pt); err != nil {
		return "", fmt.Errorf("paper: submit: %w", err)
	}

	quote, err := v.GetQuote(ctx, domain.SwapParams{
		OwnerID:  pt.OwnerID,
		Token:    pt.Token,
		Side:     pt.Side,
		Amount:   pt.Amount,
		Slippage: pt.Slippage,
	})
	if err != nil {
		return "", fmt.Errorf("paper: submit: %w", err)
	}

	txRef := "paper-" + uuid.NewString()

	v.mu.Lock()
	v.slot++
	v.fills[txRef] = domain.Confirmation{
		TxRef:        txRef,
		Slot:         v.slot,
		OutputAmount: quote.OutputAmount,
		ConfirmedAt:  time.Now(),
	}
	v.mu.Unlock()

	v.logger.Debug("paper fill",
		slog.String("tx_ref", txRef),
		slog.String("token", pt.Token),
		slog.String("side", string(pt.Side)),
		slog.Float64("output", quote.OutputAmount))

	return txRef, nil
}

// SubmitBundle submits through the same instant-fill path; the tip is
// accepted and ignored.
func (v *Venue) SubmitBundle(ctx context.Context, tx domain.UnsignedTx, tip float64) (string, error) {
	return v.Submit(ctx, tx, 0)
}

// WaitForConfirmation returns the recorded fill. Paper fills confirm
// instantly, so an unknown txRef means the caller has a bug.
func (v *Venue) WaitForConfirmation(ctx context.Context, txRef string, timeout time.Duration) (domain.Confirmation, error) {
	v.mu.Lock()
	conf, ok := v.fills[txRef]
	v.mu.Unlock()

	if !ok {
		return domain.Confirmation{}, fmt.Errorf("paper: confirm %s: %w", txRef, domain.ErrNotFound)
	}
	return conf, nil
}

// RecentCongestion reports a flat synthetic fee environment.
func (v *Venue) RecentCongestion(ctx context.Context) (domain.Congestion, error) {
	return domain.Congestion{Median: 1000, P75: 2000}, nil
}

var (
	_ domain.SwapStrategy    = (*Venue)(nil)
	_ domain.TxSubmitter     = (*Venue)(nil)
	_ domain.BundleSubmitter = (*Venue)(nil)
	_ domain.Confirmer       = (*Venue)(nil)
	_ domain.FeeOracle       = (*Venue)(nil)
)
