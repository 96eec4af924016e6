// Package jupiter is the REST and websocket client for the aggregated DEX
// price API. Tokens that have migrated to pooled liquidity are priced here.
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/solwatch/tokenbot/internal/domain"
)

// Client is the REST client for the aggregator price API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[map[string]float64]
}

// NewClient creates a new price API client.
//
// baseURL is the API root, e.g. "https://price.jup.ag".
func NewClient(baseURL string, timeout time.Duration) *Client {
	breaker := gobreaker.NewCircuitBreaker[map[string]float64](gobreaker.Settings{
		Name:     "jupiter",
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

// priceEntry is one token in the batch price response. Prices come over the
// wire as decimal strings.
type priceEntry struct {
	ID    string `json:"id"`
	Price string `json:"price"`
}

type priceResponse struct {
	Data map[string]priceEntry `json:"data"`
}

// GetPrice resolves a single token price. Returns ErrNotFound when the
// aggregator has no pooled liquidity for the token.
func (c *Client) GetPrice(ctx context.Context, token string) (float64, error) {
	prices, err := c.GetPrices(ctx, []string{token})
	if err != nil {
		return 0, err
	}
	price, ok := prices[token]
	if !ok {
		return 0, fmt.Errorf("jupiter: price %s: %w", token, domain.ErrNotFound)
	}
	return price, nil
}

// GetPrices resolves a batch of tokens in one request. Tokens the aggregator
// cannot price are omitted from the result map. Callers cap the batch size;
// the client sends whatever it is given.
func (c *Client) GetPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	if len(tokens) == 0 {
		return map[string]float64{}, nil
	}

	prices, err := c.breaker.Execute(func() (map[string]float64, error) {
		return c.fetchPrices(ctx, tokens)
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: get prices: %w", err)
	}
	return prices, nil
}

func (c *Client) fetchPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(tokens, ","))

	body, err := c.doGet(ctx, "/price/v2?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}

	prices := make(map[string]float64, len(resp.Data))
	for mint, entry := range resp.Data {
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price for %s: %w", mint, err)
		}
		prices[mint] = price
	}
	return prices, nil
}

// GetTokenStatus reports the token as migrated whenever the aggregator can
// price it; the DEX only lists tokens with pooled liquidity.
func (c *Client) GetTokenStatus(ctx context.Context, token string) (domain.TokenStatus, error) {
	prices, err := c.GetPrices(ctx, []string{token})
	if err != nil {
		return domain.TokenStatus{}, err
	}

	_, listed := prices[token]
	return domain.TokenStatus{
		Exists:   listed,
		OnCurve:  false,
		Migrated: listed,
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

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ domain.PriceSource = (*Client)(nil)
