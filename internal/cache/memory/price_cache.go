// Package memory implements the in-process price cache. It is a pure data
// structure with no I/O: entries expire after a TTL and the least recently
// used entry is evicted when capacity is exceeded.
package memory

import (
	"container/list"
	"sync"
	"time"

	"github.com/solwatch/tokenbot/internal/domain"
)

type priceEntry struct {
	token    string
	quote    domain.PriceQuote
	storedAt time.Time
}

// PriceCache implements domain.PriceCache. Safe for concurrent use.
type PriceCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used

	// now is swappable for tests.
	now func() time.Time
}

// NewPriceCache creates a PriceCache holding at most capacity entries, each
// valid for ttl after its last Set.
func NewPriceCache(ttl time.Duration, capacity int) *PriceCache {
	return &PriceCache{
		ttl:      ttl,
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Set stores the quote for a token, refreshing its TTL and recency. When the
// cache is full the least recently used entry is evicted.
func (c *PriceCache) Set(token string, q domain.PriceQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[token]; ok {
		ent := el.Value.(*priceEntry)
		ent.quote = q
		ent.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	el := c.order.PushFront(&priceEntry{token: token, quote: q, storedAt: c.now()})
	c.items[token] = el
}

// Get returns the cached quote for a token. An entry older than the TTL is
// treated as absent and removed.
func (c *PriceCache) Get(token string) (domain.PriceQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[token]
	if !ok {
		return domain.PriceQuote{}, false
	}

	ent := el.Value.(*priceEntry)
	if c.now().Sub(ent.storedAt) >= c.ttl {
		c.removeElement(el)
		return domain.PriceQuote{}, false
	}

	c.order.MoveToFront(el)
	return ent.quote, true
}

// Delete removes a token's entry if present.
func (c *PriceCache) Delete(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[token]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of entries currently stored, including entries that
// have expired but not yet been touched.
func (c *PriceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *PriceCache) evictOldest() {
	if el := c.order.Back(); el != nil {
		c.removeElement(el)
	}
}

func (c *PriceCache) removeElement(el *list.Element) {
	ent := el.Value.(*priceEntry)
	delete(c.items, ent.token)
	c.order.Remove(el)
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
