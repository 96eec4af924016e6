package price

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/tokenbot/internal/cache/memory"
	"github.com/solwatch/tokenbot/internal/domain"
)

// fakeSource is a scripted PriceSource that records batch calls.
type fakeSource struct {
	prices     map[string]float64
	statuses   map[string]domain.TokenStatus
	err        error
	batchCalls [][]string
	callCount  int
}

func (f *fakeSource) GetPrice(ctx context.Context, token string) (float64, error) {
	f.callCount++
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.prices[token]
	if !ok {
		return 0, fmt.Errorf("fake: %s: %w", token, domain.ErrNotFound)
	}
	return p, nil
}

func (f *fakeSource) GetPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	f.callCount++
	f.batchCalls = append(f.batchCalls, tokens)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64)
	for _, t := range tokens {
		if p, ok := f.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (f *fakeSource) GetTokenStatus(ctx context.Context, token string) (domain.TokenStatus, error) {
	if f.err != nil {
		return domain.TokenStatus{}, f.err
	}
	return f.statuses[token], nil
}

func newTestAggregator(dex, curve *fakeSource) *Aggregator {
	cache := memory.NewPriceCache(time.Minute, 1000)
	return NewAggregator(dex, curve, cache, 100, 4, slog.Default())
}

func TestGetPriceDEXFirst(t *testing.T) {
	dex := &fakeSource{prices: map[string]float64{"mint-a": 1.25}}
	curve := &fakeSource{prices: map[string]float64{"mint-a": 9.99}}
	agg := newTestAggregator(dex, curve)

	q, err := agg.GetPrice(context.Background(), "mint-a")
	require.NoError(t, err)
	assert.Equal(t, 1.25, q.Price)
	assert.Equal(t, domain.PriceSourceDEX, q.Source)
	assert.Zero(t, curve.callCount, "curve must not be consulted when the dex answers")
}

func TestGetPriceCurveFallback(t *testing.T) {
	dex := &fakeSource{prices: map[string]float64{}}
	curve := &fakeSource{prices: map[string]float64{"mint-a": 0.0004}}
	agg := newTestAggregator(dex, curve)

	q, err := agg.GetPrice(context.Background(), "mint-a")
	require.NoError(t, err)
	assert.Equal(t, 0.0004, q.Price)
	assert.Equal(t, domain.PriceSourceCurve, q.Source)
}

func TestGetPriceUnavailable(t *testing.T) {
	agg := newTestAggregator(
		&fakeSource{prices: map[string]float64{}},
		&fakeSource{prices: map[string]float64{}},
	)

	_, err := agg.GetPrice(context.Background(), "mint-x")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestGetPriceInvalidNeverCached(t *testing.T) {
	dex := &fakeSource{prices: map[string]float64{"bad": math.NaN()}}
	agg := newTestAggregator(dex, &fakeSource{prices: map[string]float64{}})

	_, err := agg.GetPrice(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	before := dex.callCount
	_, err = agg.GetPrice(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	assert.Greater(t, dex.callCount, before, "invalid price must not be served from cache")
}

func TestGetPriceServedFromCache(t *testing.T) {
	dex := &fakeSource{prices: map[string]float64{"mint-a": 2.0}}
	agg := newTestAggregator(dex, &fakeSource{})

	_, err := agg.GetPrice(context.Background(), "mint-a")
	require.NoError(t, err)
	calls := dex.callCount

	q, err := agg.GetPrice(context.Background(), "mint-a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, q.Price)
	assert.Equal(t, calls, dex.callCount, "second read must hit the cache")
}

func TestGetDEXPricesChunking(t *testing.T) {
	prices := make(map[string]float64, 150)
	tokens := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		token := fmt.Sprintf("mint-%03d", i)
		tokens = append(tokens, token)
		prices[token] = float64(i) + 1
	}

	dex := &fakeSource{prices: prices}
	agg := newTestAggregator(dex, &fakeSource{})

	out, err := agg.GetDEXPrices(context.Background(), tokens)
	require.NoError(t, err)

	assert.Len(t, out, 150)
	require.Len(t, dex.batchCalls, 2, "150 tokens with chunk size 100 must make exactly 2 calls")
	assert.Len(t, dex.batchCalls[0], 100)
	assert.Len(t, dex.batchCalls[1], 50)
}

func TestGetDEXPricesChunkFailureSkipped(t *testing.T) {
	dex := &fakeSource{err: fmt.Errorf("upstream down")}
	agg := newTestAggregator(dex, &fakeSource{})

	out, err := agg.GetDEXPrices(context.Background(), []string{"a-token-mint-000000000000000000000000"})
	require.NoError(t, err, "a failed chunk must not abort the pass")
	assert.Empty(t, out)
}

func TestGetBondingCurvePrices(t *testing.T) {
	curve := &fakeSource{prices: map[string]float64{
		"mint-a": 0.001,
		"mint-b": 0.002,
	}}
	agg := newTestAggregator(&fakeSource{}, curve)

	out, err := agg.GetBondingCurvePrices(context.Background(), []string{"mint-a", "mint-b", "mint-c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"mint-a": 0.001, "mint-b": 0.002}, out)
}

func TestGetAllPricesCurveFallbackForMissing(t *testing.T) {
	dex := &fakeSource{prices: map[string]float64{"mint-a": 1.0}}
	curve := &fakeSource{prices: map[string]float64{"mint-b": 0.5}}
	agg := newTestAggregator(dex, curve)

	out, err := agg.GetAllPrices(context.Background(), []string{"mint-a", "mint-b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"mint-a": 1.0, "mint-b": 0.5}, out)
}
