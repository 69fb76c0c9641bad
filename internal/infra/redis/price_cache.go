package redis

import (
	"context"
	"strings"
	"time"

	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceCache decorates a PriceOracle with a shared Redis cache so a fleet of gates
// stays within the upstream quota. Redis failures fall through to the oracle.
type PriceCache struct {
	client *Client
	inner  adapter.PriceOracle
	ttl    time.Duration
	log    *zerolog.Logger
}

var _ adapter.PriceOracle = (*PriceCache)(nil)

func NewPriceCache(client *Client, inner adapter.PriceOracle, ttl time.Duration, logger *zerolog.Logger) *PriceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PriceCache{client: client, inner: inner, ttl: ttl, log: logger}
}

func priceKey(currency string) string { return "price:usd:" + strings.ToUpper(currency) }

func (c *PriceCache) PriceUSD(ctx context.Context, currency string) (decimal.Decimal, error) {
	key := priceKey(currency)
	if raw, err := c.client.Get(ctx, key); err == nil {
		if p, perr := decimal.NewFromString(raw); perr == nil {
			metrics.IncCacheRequest("price_redis", "hit")
			return p, nil
		}
	} else if !IsNil(err) {
		c.log.Warn().Err(err).Str("key", key).Msg("price cache read failed")
	}
	metrics.IncCacheRequest("price_redis", "miss")

	p, err := c.inner.PriceUSD(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, key, p.String(), c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("price cache write failed")
	}
	return p, nil
}
