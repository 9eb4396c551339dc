package mexcspot

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// tickerCache is the process-global, short-TTL (60s) ticker cache named
// shared across all bots on a symbol and initialized once at startup.
type tickerCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]cachedPrice
}

type cachedPrice struct {
	price   decimal.Decimal
	expires time.Time
}

func newTickerCache(ttl time.Duration) *tickerCache {
	return &tickerCache{ttl: ttl, m: make(map[string]cachedPrice)}
}

func (c *tickerCache) get(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.m[symbol]
	if !ok || time.Now().After(entry.expires) {
		return decimal.Decimal{}, false
	}
	return entry.price, true
}

func (c *tickerCache) set(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[symbol] = cachedPrice{price: price, expires: time.Now().Add(c.ttl)}
}

// balanceCache is the process-global, short-TTL (30s) balance cache,
// keyed by user.
type balanceCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]cachedBalance
}

type cachedBalance struct {
	balances map[string]decimal.Decimal
	expires  time.Time
}

func newBalanceCache(ttl time.Duration) *balanceCache {
	return &balanceCache{ttl: ttl, m: make(map[string]cachedBalance)}
}

func (c *balanceCache) get(key string) (map[string]decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.m[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.balances, true
}

func (c *balanceCache) set(key string, balances map[string]decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cachedBalance{balances: balances, expires: time.Now().Add(c.ttl)}
}
