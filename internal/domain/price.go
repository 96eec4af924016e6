package domain

import (
	"context"
	"time"
)

// PriceSourceName identifies where a quote came from.
type PriceSourceName string

const (
	PriceSourceDEX   PriceSourceName = "dex"
	PriceSourceCurve PriceSourceName = "curve"
)

// PriceQuote is a single resolved token price.
type PriceQuote struct {
	Token     string
	Price     float64
	Source    PriceSourceName
	Timestamp time.Time
}

// PriceSource resolves current token prices from one market venue.
type PriceSource interface {
	// GetPrice resolves a single token price. Returns ErrNotFound when the
	// venue does not know the token.
	GetPrice(ctx context.Context, token string) (float64, error)
	// GetPrices resolves a batch of tokens. Tokens the venue cannot price
	// are omitted from the result map.
	GetPrices(ctx context.Context, tokens []string) (map[string]float64, error)
	// GetTokenStatus reports issuance-curve state for migration tracking.
	GetTokenStatus(ctx context.Context, token string) (TokenStatus, error)
}

// PriceCache is a pure in-memory cache of recent quotes. Implementations do
// no I/O; entries expire by TTL and are evicted LRU-first at capacity.
type PriceCache interface {
	Set(token string, q PriceQuote)
	Get(token string) (PriceQuote, bool)
	Delete(token string)
	Len() int
}

// PriceUpdate is one push from a real-time price stream.
type PriceUpdate struct {
	Token     string
	Price     float64
	Timestamp time.Time
}

// PriceStream delivers real-time price pushes for a subscribed token set.
type PriceStream interface {
	// Subscribe replaces the current subscription set. Updates for the new
	// set arrive on the channel returned by Updates.
	Subscribe(ctx context.Context, tokens []string) error
	Updates() <-chan PriceUpdate
	Close() error
}
