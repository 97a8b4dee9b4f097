package price

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"

	"github.com/TadashiJei/OrbitYield/internal/metrics"
)

// Cached wraps an oracle with a TTL cache
type Cached struct {
	next  Oracle
	ttl   time.Duration
	cache *ristretto.Cache
}

// NewCached creates a caching oracle holding prices for ttl
func NewCached(next Oracle, ttl time.Duration) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}
	return &Cached{next: next, ttl: ttl, cache: cache}, nil
}

// PriceUSD returns a cached price or asks the wrapped oracle
func (c *Cached) PriceUSD(ctx context.Context, chainID, asset string) (decimal.Decimal, error) {
	key := chainID + ":" + normalize(asset)

	if v, ok := c.cache.Get(key); ok {
		metrics.PriceCacheHits.WithLabelValues("hit").Inc()
		return v.(decimal.Decimal), nil
	}
	metrics.PriceCacheHits.WithLabelValues("miss").Inc()

	p, err := c.next.PriceUSD(ctx, chainID, asset)
	if err != nil {
		return decimal.Zero, err
	}
	c.cache.SetWithTTL(key, p, 1, c.ttl)
	return p, nil
}

// Wait blocks until pending cache writes are applied
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases the cache
func (c *Cached) Close() {
	c.cache.Close()
}
