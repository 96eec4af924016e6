// Package pumpfun is the REST client for the bonding-curve launch venue.
// Pre-migration tokens are priced per-token from the curve reserves.
package pumpfun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/solwatch/tokenbot/internal/domain"
)

// Client is the REST client for the bonding-curve API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[coinInfo]
}

// NewClient creates a new bonding-curve API client.
//
// baseURL is the API root, e.g. "https://frontend-api.pump.fun".
func NewClient(baseURL string, timeout time.Duration) *Client {
	breaker := gobreaker.NewCircuitBreaker[coinInfo](gobreaker.Settings{
		Name:     "pumpfun",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
	}
}

// coinInfo is the venue's per-token record. Reserve fields describe the
// current state of the bonding curve.
type coinInfo struct {
	Mint                   string  `json:"mint"`
	Complete               bool    `json:"complete"` // curve graduated, liquidity migrated
	VirtualSolReserves     float64 `json:"virtual_sol_reserves"`
	VirtualTokenReserves   float64 `json:"virtual_token_reserves"`
	UsdMarketCap           float64 `json:"usd_market_cap"`
	RaydiumPool            string  `json:"raydium_pool"`
	TotalSupply            float64 `json:"total_supply"`
	King                   bool    `json:"king_of_the_hill"`
	LastTradeUnixTimestamp int64   `json:"last_trade_timestamp"`
}

func (c *Client) getCoin(ctx context.Context, token string) (coinInfo, error) {
	return c.breaker.Execute(func() (coinInfo, error) {
		body, err := c.doGet(ctx, "/coins/"+url.PathEscape(token))
		if err != nil {
			return coinInfo{}, err
		}

		var info coinInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return coinInfo{}, fmt.Errorf("decode coin: %w", err)
		}
		return info, nil
	})
}

// GetPrice resolves the spot price from the curve's virtual reserves.
// Returns ErrNotFound for unknown tokens and for tokens that already
// migrated off the curve.
func (c *Client) GetPrice(ctx context.Context, token string) (float64, error) {
	info, err := c.getCoin(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("pumpfun: get price %s: %w", token, err)
	}

	if info.Mint == "" || info.Complete {
		return 0, fmt.Errorf("pumpfun: price %s: %w", token, domain.ErrNotFound)
	}
	if info.VirtualTokenReserves <= 0 {
		return 0, fmt.Errorf("pumpfun: price %s: %w", token, domain.ErrInvalidPrice)
	}

	return info.VirtualSolReserves / info.VirtualTokenReserves, nil
}

// GetPrices resolves tokens one at a time; the venue has no batch endpoint.
// Tokens it cannot price are omitted. Callers wanting parallelism fan out
// above this client.
func (c *Client) GetPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		price, err := c.GetPrice(ctx, token)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		prices[token] = price
	}
	return prices, nil
}

// GetTokenStatus reports curve state for migration tracking.
func (c *Client) GetTokenStatus(ctx context.Context, token string) (domain.TokenStatus, error) {
	info, err := c.getCoin(ctx, token)
	if err != nil {
		return domain.TokenStatus{}, fmt.Errorf("pumpfun: get status %s: %w", token, err)
	}

	if info.Mint == "" {
		return domain.TokenStatus{Exists: false}, nil
	}

	return domain.TokenStatus{
		Exists:    true,
		OnCurve:   !info.Complete,
		Migrated:  info.Complete,
		MarketCap: info.UsdMarketCap,
	}, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return []byte("{}"), nil
	case http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

var _ domain.PriceSource = (*Client)(nil)
