package oracle

import (
	"context"
	"strings"
	"time"

	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/infra/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
)

// Cached keeps recent quotes in process so a burst of 402 responses costs one upstream call
// per currency per ttl. Errors are never cached.
type Cached struct {
	inner adapter.PriceOracle
	cache *expirable.LRU[string, decimal.Decimal]
}

var _ adapter.PriceOracle = (*Cached)(nil)

func NewCached(inner adapter.PriceOracle, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{inner: inner, cache: expirable.NewLRU[string, decimal.Decimal](64, nil, ttl)}
}

func (c *Cached) PriceUSD(ctx context.Context, currency string) (decimal.Decimal, error) {
	key := strings.ToUpper(currency)
	if p, ok := c.cache.Get(key); ok {
		metrics.IncCacheRequest("price", "hit")
		return p, nil
	}
	metrics.IncCacheRequest("price", "miss")
	p, err := c.inner.PriceUSD(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	c.cache.Add(key, p)
	return p, nil
}
