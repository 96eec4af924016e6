package exec

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/tokenbot/internal/domain"
)

// fakeVenue plays every chain collaborator with scripted behaviour.
type fakeVenue struct {
	quote       domain.SwapQuote
	quoteErr    error
	conf        domain.Confirmation
	confErr     error
	submitErr   error
	simulateErr error
	bundleErr   error

	quoteCalls   int
	submitCalls  int
	bundleCalls  int
	confirmCalls int
}

func (v *fakeVenue) CanTrade(ctx context.Context, token string) (bool, error) { return true, nil }

func (v *fakeVenue) GetQuote(ctx context.Context, p domain.SwapParams) (domain.SwapQuote, error) {
	v.quoteCalls++
	return v.quote, v.quoteErr
}

func (v *fakeVenue) BuildTransaction(ctx context.Context, p domain.SwapParams) (domain.UnsignedTx, error) {
	return domain.UnsignedTx{Payload: []byte("tx"), Blockhash: "hash"}, nil
}

func (v *fakeVenue) ExecuteSwap(ctx context.Context, p domain.SwapParams, s domain.ExecutionSettings) (string, error) {
	return "", fmt.Errorf("not used")
}

func (v *fakeVenue) Simulate(ctx context.Context, tx domain.UnsignedTx) error { return v.simulateErr }

func (v *fakeVenue) Submit(ctx context.Context, tx domain.UnsignedTx, priorityFee float64) (string, error) {
	v.submitCalls++
	if v.submitErr != nil {
		return "", v.submitErr
	}
	return "tx-plain", nil
}

func (v *fakeVenue) SubmitBundle(ctx context.Context, tx domain.UnsignedTx, tip float64) (string, error) {
	v.bundleCalls++
	if v.bundleErr != nil {
		return "", v.bundleErr
	}
	return "tx-bundle", nil
}

func (v *fakeVenue) WaitForConfirmation(ctx context.Context, txRef string, timeout time.Duration) (domain.Confirmation, error) {
	v.confirmCalls++
	if v.confErr != nil {
		return domain.Confirmation{}, v.confErr
	}
	conf := v.conf
	if conf.TxRef == "" {
		conf.TxRef = txRef
	}
	return conf, nil
}

func (v *fakeVenue) RecentCongestion(ctx context.Context) (domain.Congestion, error) {
	return domain.Congestion{Median: 1000, P75: 2000}, nil
}

func newTestService(cfg Config, venue *fakeVenue, marketPrice float64) *Service {
	strategies := map[domain.TokenClass]domain.SwapStrategy{
		domain.TokenClassAMM:          venue,
		domain.TokenClassBondingCurve: venue,
	}
	return NewService(cfg, strategies, venue, venue, venue, venue, fixedPrice(marketPrice), nil, slog.Default())
}

type fixedPrice float64

func (f fixedPrice) GetPrice(ctx context.Context, token string) (domain.PriceQuote, error) {
	return domain.PriceQuote{Price: float64(f), Timestamp: time.Now()}, nil
}

func buyOrder() domain.Order {
	return domain.Order{
		ID:          "order-1",
		OwnerID:     "owner-1",
		Token:       "mint-a",
		Side:        domain.OrderSideBuy,
		TargetPrice: 0.00001,
		Amount:      1.0,
		Slippage:    0.01,
		Status:      domain.OrderStatusPending,
	}
}

func TestExecuteOrderBuyFill(t *testing.T) {
	venue := &fakeVenue{
		quote: domain.SwapQuote{InputAmount: 1.0, OutputAmount: 100000, PriceImpact: 0.001, Fee: 0.0025},
		conf:  domain.Confirmation{OutputAmount: 99000, Slot: 42, ConfirmedAt: time.Now()},
	}
	svc := newTestService(Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond, MaxPriceImpact: 0.05}, venue, 0.0000095)

	result, err := svc.ExecuteOrderWithRetry(context.Background(), buyOrder(), domain.TokenClassAMM)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 99000.0, result.FilledAmount, "a buy fill is the token quantity received")
	assert.InDelta(t, 1.0/99000, result.FilledPrice, 1e-15)
	assert.Equal(t, 0.0025, result.Fee)
	assert.NotEmpty(t, result.TxRef)
}

func TestExecuteOrderSellFill(t *testing.T) {
	venue := &fakeVenue{
		quote: domain.SwapQuote{InputAmount: 50000, OutputAmount: 0.6, PriceImpact: 0.001},
		conf:  domain.Confirmation{OutputAmount: 0.6},
	}
	svc := newTestService(Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond, MaxPriceImpact: 0.05}, venue, 0.00002)

	order := buyOrder()
	order.Side = domain.OrderSideSell
	order.TargetPrice = 0.000012
	order.Amount = 50000

	result, err := svc.ExecuteOrderWithRetry(context.Background(), order, domain.TokenClassAMM)
	require.NoError(t, err)

	assert.Equal(t, 50000.0, result.FilledAmount, "a sell fill is the token quantity spent")
	assert.InDelta(t, 0.6/50000, result.FilledPrice, 1e-15)
}

func TestExecuteOrderExcessiveImpact(t *testing.T) {
	venue := &fakeVenue{
		quote: domain.SwapQuote{PriceImpact: 0.10},
	}
	svc := newTestService(Config{MaxRetries: 5, RetryBaseDelay: time.Millisecond, MaxPriceImpact: 0.05}, venue, 0.0000095)

	result, err := svc.ExecuteOrderWithRetry(context.Background(), buyOrder(), domain.TokenClassAMM)

	assert.ErrorIs(t, err, domain.ErrExcessiveImpact)
	assert.Equal(t, 1, result.Attempts, "a policy abort must not be retried")
	assert.Equal(t, 1, venue.quoteCalls)
	assert.Zero(t, venue.submitCalls)
}

func TestExecuteOrderPriceDriftedOffTarget(t *testing.T) {
	venue := &fakeVenue{quote: domain.SwapQuote{PriceImpact: 0.001}}
	// Market moved above the buy target between polling and execution.
	svc := newTestService(Config{MaxRetries: 5, RetryBaseDelay: time.Millisecond, MaxPriceImpact: 0.05}, venue, 0.000011)

	result, err := svc.ExecuteOrderWithRetry(context.Background(), buyOrder(), domain.TokenClassAMM)

	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	assert.Equal(t, 1, result.Attempts)
	assert.Zero(t, venue.quoteCalls, "revalidation failure aborts before quoting")
}

func TestExecuteOrderConfirmationTimeoutNotRetried(t *testing.T) {
	venue := &fakeVenue{
		quote:   domain.SwapQuote{PriceImpact: 0.001},
		confErr: fmt.Errorf("deadline: %w", domain.ErrConfirmationTimeout),
	}
	svc := newTestService(Config{MaxRetries: 5, RetryBaseDelay: time.Millisecond, MaxPriceImpact: 0.05}, venue, 0.0000095)

	result, err := svc.ExecuteOrderWithRetry(context.Background(), buyOrder(), domain.TokenClassAMM)

	assert.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, venue.submitCalls, "an ambiguous confirmation must never resubmit")
}

func TestExecuteOrderTransientSubmitRetried(t *testing.T) {
	venue := &fakeVenue{
		quote:     domain.SwapQuote{PriceImpact: 0.001},
		conf:      domain.Confirmation{OutputAmount: 100},
		submitErr: fmt.Errorf("rpc unavailable"),
	}
	svc := newTestService(Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond, MaxPriceImpact: 0.05}, venue, 0.0000095)

	result, err := svc.ExecuteOrderWithRetry(context.Background(), buyOrder(), domain.TokenClassAMM)

	require.Error(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, venue.submitCalls)
}

func TestSubmitBundleFallback(t *testing.T) {
	venue := &fakeVenue{
		quote:     domain.SwapQuote{PriceImpact: 0.001},
		conf:      domain.Confirmation{OutputAmount: 100},
		bundleErr: fmt.Errorf("relay rejected bundle"),
	}
	cfg := Config{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		MaxPriceImpact: 0.05,
		MEVProtection:  true,
		BundleTip:      0.0001,
	}
	svc := newTestService(cfg, venue, 0.0000095)

	result, err := svc.ExecuteOrderWithRetry(context.Background(), buyOrder(), domain.TokenClassAMM)
	require.NoError(t, err)

	assert.Equal(t, 1, venue.bundleCalls)
	assert.Equal(t, 1, venue.submitCalls, "bundle failure falls back to the plain path")
	assert.Equal(t, "tx-plain", result.TxRef)
}

func TestSubmitBundlePreferred(t *testing.T) {
	venue := &fakeVenue{
		quote: domain.SwapQuote{PriceImpact: 0.001},
		conf:  domain.Confirmation{OutputAmount: 100},
	}
	cfg := Config{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		MaxPriceImpact: 0.05,
		MEVProtection:  true,
	}
	svc := newTestService(cfg, venue, 0.0000095)

	result, err := svc.ExecuteOrderWithRetry(context.Background(), buyOrder(), domain.TokenClassAMM)
	require.NoError(t, err)

	assert.Equal(t, 1, venue.bundleCalls)
	assert.Zero(t, venue.submitCalls)
	assert.Equal(t, "tx-bundle", result.TxRef)
}

func TestExecuteOrderUnknownClass(t *testing.T) {
	venue := &fakeVenue{quote: domain.SwapQuote{PriceImpact: 0.001}}
	svc := NewService(Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond}, nil, venue, venue, venue, venue, fixedPrice(0.0000095), nil, slog.Default())

	_, err := svc.ExecuteOrderWithRetry(context.Background(), buyOrder(), domain.TokenClassAMM)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}
