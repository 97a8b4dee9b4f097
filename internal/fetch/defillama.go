package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pool is one DefiLlama yields pool
type Pool struct {
	Pool             string   `json:"pool"`
	Chain            string   `json:"chain"`
	Project          string   `json:"project"`
	Symbol           string   `json:"symbol"`
	TVLUsd           float64  `json:"tvlUsd"`
	APY              float64  `json:"apy"`
	APYBase          float64  `json:"apyBase"`
	APYReward        float64  `json:"apyReward"`
	StableCoin       bool     `json:"stablecoin"`
	UnderlyingTokens []string `json:"underlyingTokens"`
	RewardTokens     []string `json:"rewardTokens"`
	PoolMeta         string   `json:"poolMeta"`
}

// DefiLlamaClient reads the DefiLlama yields API. The full pool list is large,
// so it is cached for cacheTTL and shared by every adapter.
type DefiLlamaClient struct {
	feed

	mutex     sync.RWMutex
	cacheTTL  time.Duration
	cached    []Pool
	cacheTime time.Time
}

// NewDefiLlamaClient creates a new DefiLlama client
func NewDefiLlamaClient(opts Options, cacheTTL time.Duration) *DefiLlamaClient {
	return &DefiLlamaClient{
		feed:     newFeed("defillama", opts),
		cacheTTL: cacheTTL,
	}
}

// Pools returns the pools of one project on one chain. chainName is DefiLlama's
// chain label, matched case-insensitively ("ethereum", "Arbitrum").
func (c *DefiLlamaClient) Pools(ctx context.Context, project, chainName string) ([]Pool, error) {
	all, err := c.allPools(ctx)
	if err != nil {
		return nil, err
	}

	var pools []Pool
	for _, pool := range all {
		if pool.Project == project && strings.EqualFold(pool.Chain, chainName) {
			pools = append(pools, pool)
		}
	}
	return pools, nil
}

func (c *DefiLlamaClient) allPools(ctx context.Context) ([]Pool, error) {
	c.mutex.RLock()
	if c.cached != nil && time.Since(c.cacheTime) < c.cacheTTL {
		pools := c.cached
		c.mutex.RUnlock()
		return pools, nil
	}
	c.mutex.RUnlock()

	var response struct {
		Status string `json:"status"`
		Data   []Pool `json:"data"`
	}
	if err := c.getJSON(ctx, c.baseURL, &response, func() int { return len(response.Data) }); err != nil {
		return nil, err
	}

	c.mutex.Lock()
	c.cached = response.Data
	c.cacheTime = time.Now()
	c.mutex.Unlock()

	logrus.Debugf("Received %d pools from DefiLlama", len(response.Data))
	return response.Data, nil
}
