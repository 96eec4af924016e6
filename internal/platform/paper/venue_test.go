package paper

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

func fixedPrice(p float64) PriceFunc {
	return func(ctx context.Context, token string) (float64, error) {
		return p, nil
	}
}

func noPrice() PriceFunc {
	return func(ctx context.Context, token string) (float64, error) {
		return 0, fmt.Errorf("paper test: %w", domain.ErrPriceUnavailable)
	}
}

func TestCanTrade(t *testing.T) {
	v := NewVenue(fixedPrice(1.0), slog.Default())
	ok, err := v.CanTrade(context.Background(), "mint-a")
	require.NoError(t, err)
	assert.True(t, ok)

	v = NewVenue(noPrice(), slog.Default())
	ok, err = v.CanTrade(context.Background(), "mint-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetQuoteBuy(t *testing.T) {
	v := NewVenue(fixedPrice(0.0001), slog.Default())

	quote, err := v.GetQuote(context.Background(), domain.SwapParams{
		Token:  "mint-a",
		Side:   domain.OrderSideBuy,
		Amount: 1.0,
	})
	require.NoError(t, err)

	fee := 1.0 * 0.0025
	impact := 1.0 * 1e-6
	want := (1.0 - fee) / 0.0001 * (1 - impact)

	assert.Equal(t, 1.0, quote.InputAmount)
	assert.InDelta(t, want, quote.OutputAmount, 1e-9)
	assert.InDelta(t, impact, quote.PriceImpact, 1e-15)
	assert.InDelta(t, fee, quote.Fee, 1e-15)
}

func TestGetQuoteImpactCapped(t *testing.T) {
	v := NewVenue(fixedPrice(1.0), slog.Default())

	quote, err := v.GetQuote(context.Background(), domain.SwapParams{
		Token:  "mint-a",
		Side:   domain.OrderSideSell,
		Amount: 5e6,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.99, quote.PriceImpact)
}

func TestSubmitAndConfirm(t *testing.T) {
	v := NewVenue(fixedPrice(0.0001), slog.Default())
	ctx := context.Background()

	params := domain.SwapParams{
		OwnerID: "owner-1",
		Token:   "mint-a",
		Side:    domain.OrderSideBuy,
		Amount:  1.0,
	}

	tx, err := v.BuildTransaction(ctx, params)
	require.NoError(t, err)
	require.NoError(t, v.Simulate(ctx, tx))

	txRef, err := v.Submit(ctx, tx, 1000)
	require.NoError(t, err)
	assert.Contains(t, txRef, "paper-")

	conf, err := v.WaitForConfirmation(ctx, txRef, time.Second)
	require.NoError(t, err)
	assert.Equal(t, txRef, conf.TxRef)
	assert.Positive(t, conf.OutputAmount)
	assert.Positive(t, conf.Slot)
}

func TestConfirmUnknownTx(t *testing.T) {
	v := NewVenue(fixedPrice(1.0), slog.Default())
	_, err := v.WaitForConfirmation(context.Background(), "paper-missing", time.Second)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimulateRejectsBadPayload(t *testing.T) {
	v := NewVenue(fixedPrice(1.0), slog.Default())
	ctx := context.Background()

	err := v.Simulate(ctx, domain.UnsignedTx{Payload: []byte("not json")})
	assert.Error(t, err)

	tx, err := v.BuildTransaction(ctx, domain.SwapParams{Token: "mint-a", Side: domain.OrderSideBuy})
	require.NoError(t, err)
	err = v.Simulate(ctx, tx)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestSlotsIncrease(t *testing.T) {
	v := NewVenue(fixedPrice(1.0), slog.Default())
	ctx := context.Background()

	params := domain.SwapParams{OwnerID: "owner-1", Token: "mint-a", Side: domain.OrderSideBuy, Amount: 1.0}

	var lastSlot int64
	for i := 0; i < 3; i++ {
		tx, err := v.BuildTransaction(ctx, params)
		require.NoError(t, err)
		txRef, err := v.Submit(ctx, tx, 0)
		require.NoError(t, err)
		conf, err := v.WaitForConfirmation(ctx, txRef, time.Second)
		require.NoError(t, err)
		assert.Greater(t, conf.Slot, lastSlot)
		lastSlot = conf.Slot
	}
}
