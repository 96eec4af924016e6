package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/tokenbot/internal/domain"
)

func quote(token string, price float64) domain.PriceQuote {
	return domain.PriceQuote{
		Token:     token,
		Price:     price,
		Source:    domain.PriceSourceDEX,
		Timestamp: time.Now(),
	}
}

func TestPriceCacheSetGet(t *testing.T) {
	c := NewPriceCache(time.Minute, 10)

	c.Set("mint-a", quote("mint-a", 1.5))

	got, ok := c.Get("mint-a")
	require.True(t, ok)
	assert.Equal(t, 1.5, got.Price)

	_, ok = c.Get("mint-b")
	assert.False(t, ok)
}

func TestPriceCacheTTLExpiry(t *testing.T) {
	c := NewPriceCache(30*time.Second, 10)

	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("mint-a", quote("mint-a", 2.0))

	c.now = func() time.Time { return base.Add(29 * time.Second) }
	_, ok := c.Get("mint-a")
	assert.True(t, ok, "entry inside TTL must be served")

	c.now = func() time.Time { return base.Add(31 * time.Second) }
	_, ok = c.Get("mint-a")
	assert.False(t, ok, "expired entry must be treated as absent")
	assert.Equal(t, 0, c.Len(), "expired entry must be dropped on read")
}

func TestPriceCacheSetRefreshesTTL(t *testing.T) {
	c := NewPriceCache(30*time.Second, 10)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("mint-a", quote("mint-a", 1.0))

	c.now = func() time.Time { return base.Add(20 * time.Second) }
	c.Set("mint-a", quote("mint-a", 1.1))

	c.now = func() time.Time { return base.Add(45 * time.Second) }
	got, ok := c.Get("mint-a")
	require.True(t, ok)
	assert.Equal(t, 1.1, got.Price)
}

func TestPriceCacheLRUEviction(t *testing.T) {
	c := NewPriceCache(time.Minute, 3)

	c.Set("a", quote("a", 1))
	c.Set("b", quote("b", 2))
	c.Set("c", quote("c", 3))

	// Touch "a" so "b" becomes the least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", quote("d", 4))

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry must be evicted")
	for _, token := range []string{"a", "c", "d"} {
		_, ok := c.Get(token)
		assert.True(t, ok, "entry %s must survive eviction", token)
	}
	assert.Equal(t, 3, c.Len())
}

func TestPriceCacheDelete(t *testing.T) {
	c := NewPriceCache(time.Minute, 10)

	c.Set("a", quote("a", 1))
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
