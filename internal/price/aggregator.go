// Package price resolves current token prices across the aggregated DEX and
// the bonding-curve venue, and classifies which venue a token trades on.
package price

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solwatch/tokenbot/internal/domain"
)

// Aggregator resolves prices with a read/write-through in-memory cache.
// DEX lookups are batched; curve lookups fan out with bounded parallelism.
type Aggregator struct {
	dex   domain.PriceSource
	curve domain.PriceSource
	cache domain.PriceCache

	dexBatchSize     int
	curveParallelism int

	logger *slog.Logger
}

// NewAggregator creates an Aggregator over the two venues.
func NewAggregator(dex, curve domain.PriceSource, cache domain.PriceCache, dexBatchSize, curveParallelism int, logger *slog.Logger) *Aggregator {
	if dexBatchSize <= 0 {
		dexBatchSize = 100
	}
	if curveParallelism <= 0 {
		curveParallelism = 8
	}
	return &Aggregator{
		dex:              dex,
		curve:            curve,
		cache:            cache,
		dexBatchSize:     dexBatchSize,
		curveParallelism: curveParallelism,
		logger:           logger.With(slog.String("component", "price_aggregator")),
	}
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

func (a *Aggregator) cachePrice(token string, price float64, source domain.PriceSourceName) domain.PriceQuote {
	q := domain.PriceQuote{
		Token:     token,
		Price:     price,
		Source:    source,
		Timestamp: time.Now(),
	}
	a.cache.Set(token, q)
	return q
}

// GetPrice resolves one token: cache first, then the DEX, then the curve.
// Returns ErrPriceUnavailable when neither venue can price the token and
// ErrInvalidPrice when a venue reports a non-positive or NaN price.
func (a *Aggregator) GetPrice(ctx context.Context, token string) (domain.PriceQuote, error) {
	if q, ok := a.cache.Get(token); ok {
		return q, nil
	}

	price, err := a.dex.GetPrice(ctx, token)
	if err == nil {
		if !validPrice(price) {
			return domain.PriceQuote{}, fmt.Errorf("price: dex quote for %s: %w", token, domain.ErrInvalidPrice)
		}
		return a.cachePrice(token, price, domain.PriceSourceDEX), nil
	}

	a.logger.Debug("dex price miss, trying curve",
		slog.String("token", token), slog.Any("error", err))

	price, curveErr := a.curve.GetPrice(ctx, token)
	if curveErr != nil {
		return domain.PriceQuote{}, fmt.Errorf("price: %s: %w", token, domain.ErrPriceUnavailable)
	}
	if !validPrice(price) {
		return domain.PriceQuote{}, fmt.Errorf("price: curve quote for %s: %w", token, domain.ErrInvalidPrice)
	}
	return a.cachePrice(token, price, domain.PriceSourceCurve), nil
}

// GetDEXPrices resolves tokens through the aggregated DEX in fixed-size
// chunks. A failed chunk is logged and skipped so one bad batch does not
// abort the rest. Valid prices are written through the cache.
func (a *Aggregator) GetDEXPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tokens))

	for start := 0; start < len(tokens); start += a.dexBatchSize {
		end := start + a.dexBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		prices, err := a.dex.GetPrices(ctx, chunk)
		if err != nil {
			a.logger.Warn("dex price chunk failed",
				slog.Int("chunk_start", start),
				slog.Int("chunk_size", len(chunk)),
				slog.Any("error", err))
			continue
		}

		for token, price := range prices {
			if !validPrice(price) {
				a.logger.Warn("dropping invalid dex price",
					slog.String("token", token), slog.Float64("price", price))
				continue
			}
			out[token] = price
			a.cachePrice(token, price, domain.PriceSourceDEX)
		}
	}

	return out, nil
}

// GetBondingCurvePrices resolves tokens one call each with bounded
// parallelism. Tokens the curve cannot price are omitted.
func (a *Aggregator) GetBondingCurvePrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tokens))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.curveParallelism)

	for _, token := range tokens {
		g.Go(func() error {
			price, err := a.curve.GetPrice(gctx, token)
			if err != nil {
				a.logger.Debug("curve price miss",
					slog.String("token", token), slog.Any("error", err))
				return nil
			}
			if !validPrice(price) {
				a.logger.Warn("dropping invalid curve price",
					slog.String("token", token), slog.Float64("price", price))
				return nil
			}

			mu.Lock()
			out[token] = price
			mu.Unlock()
			a.cachePrice(token, price, domain.PriceSourceCurve)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("price: curve prices: %w", err)
	}
	return out, nil
}

// GetAllPrices resolves a mixed token set: one DEX batch pass first, then
// the bonding curve for whatever the DEX could not price.
func (a *Aggregator) GetAllPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	out, err := a.GetDEXPrices(ctx, tokens)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, token := range tokens {
		if _, ok := out[token]; !ok {
			missing = append(missing, token)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	curvePrices, err := a.GetBondingCurvePrices(ctx, missing)
	if err != nil {
		return nil, err
	}
	for token, price := range curvePrices {
		out[token] = price
	}

	return out, nil
}

// Invalidate drops a token's cached quote, forcing the next read upstream.
func (a *Aggregator) Invalidate(token string) {
	a.cache.Delete(token)
}
