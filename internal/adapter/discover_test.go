package adapter

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TadashiJei/OrbitYield/internal/model"
)

func discovery(markets []string, parallelism int, failOn map[string]error) Discovery[string] {
	return Discovery[string]{
		Protocol:    "compound",
		ChainID:     "1",
		Parallelism: parallelism,
		Load: func(context.Context) ([]string, error) {
			return markets, nil
		},
		Build: func(_ context.Context, market string) (model.YieldOpportunity, error) {
			if err, ok := failOn[market]; ok {
				return model.YieldOpportunity{}, err
			}
			return testOpp("compound", "1", market, 1), nil
		},
		Key: func(market string) string { return market },
	}
}

func ids(opps []model.YieldOpportunity) []string {
	out := make([]string, 0, len(opps))
	for _, o := range opps {
		out = append(out, o.Implementation.ContractAddress)
	}
	return out
}

func TestDiscoverySkipsFailingMarkets(t *testing.T) {
	d := discovery([]string{"0x1", "0x2", "0x3", "0x4"}, 1, map[string]error{
		"0x2": errors.New("rpc timeout"),
		"0x4": model.ErrMarketUnlisted,
	})

	assert.Equal(t, []string{"0x1", "0x3"}, ids(Collect(d.Seq(context.Background()))))
}

func TestDiscoveryPreservesOrderWithParallelism(t *testing.T) {
	markets := []string{"0x1", "0x2", "0x3", "0x4", "0x5", "0x6", "0x7"}
	d := discovery(markets, 3, nil)

	assert.Equal(t, markets, ids(Collect(d.Seq(context.Background()))))
}

func TestDiscoveryIsSingleUse(t *testing.T) {
	seq := discovery([]string{"0x1", "0x2"}, 1, nil).Seq(context.Background())

	assert.Len(t, Collect(seq), 2)
	assert.Empty(t, Collect(seq), "second range must yield nothing")
}

func TestDiscoveryIsLazyAndStopsEarly(t *testing.T) {
	var loads, builds atomic.Int32
	d := Discovery[string]{
		Protocol: "compound",
		ChainID:  "1",
		Load: func(context.Context) ([]string, error) {
			loads.Add(1)
			return []string{"0x1", "0x2", "0x3"}, nil
		},
		Build: func(_ context.Context, market string) (model.YieldOpportunity, error) {
			builds.Add(1)
			return testOpp("compound", "1", market, 1), nil
		},
	}

	seq := d.Seq(context.Background())
	assert.Equal(t, int32(0), loads.Load(), "nothing runs before iteration")

	for range seq {
		break
	}
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, int32(1), builds.Load())
}

func TestDiscoveryFeedFailureYieldsNothing(t *testing.T) {
	d := Discovery[string]{
		Protocol: "compound",
		ChainID:  "1",
		Load: func(context.Context) ([]string, error) {
			return nil, model.ErrFeedUnavailable
		},
		Build: func(context.Context, string) (model.YieldOpportunity, error) {
			t.Fatal("build must not run")
			return model.YieldOpportunity{}, nil
		},
	}

	assert.Empty(t, Collect(d.Seq(context.Background())))
}

func TestDiscoveryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, Collect(discovery([]string{"0x1"}, 1, nil).Seq(ctx)))
}

func TestSnapshotCacheReplace(t *testing.T) {
	c := NewSnapshotCache[int]()

	_, ok := c.Get("1", "a")
	assert.False(t, ok)

	src := map[string]int{"a": 1, "b": 2}
	c.Replace("1", src)
	src["c"] = 3

	v, ok := c.Get("1", "a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len("1"), "cache keeps its own copy")

	c.Replace("1", map[string]int{"z": 9})
	_, ok = c.Get("1", "a")
	assert.False(t, ok, "replacement is wholesale")

	_, ok = c.TakenAt("1")
	assert.True(t, ok)
	assert.Equal(t, 0, c.Len("137"))
}

func TestParamsValidate(t *testing.T) {
	assert.ErrorIs(t, DepositParams{}.Validate(), model.ErrInvalidParams)
	assert.ErrorIs(t, WithdrawParams{RedeemType: "bogus"}.Validate(), model.ErrInvalidParams)
	assert.True(t, IsValidAddress("0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B"))
	assert.False(t, IsValidAddress("0x0000000000000000000000000000000000000000"))
	assert.False(t, IsValidAddress("0x1234"))
}

func panickingDiscovery(parallelism int) Discovery[string] {
	d := discovery([]string{"0xa1", "0xa2", "0xa3"}, parallelism, nil)
	build := d.Build
	d.Build = func(ctx context.Context, market string) (model.YieldOpportunity, error) {
		if market == "0xa2" {
			var extra map[string]string
			extra["collateralFactor"] = "0.75"
		}
		return build(ctx, market)
	}
	return d
}

func TestDiscoverySkipsPanickingMarket(t *testing.T) {
	for _, parallelism := range []int{1, 3} {
		d := panickingDiscovery(parallelism)
		assert.Equal(t, []string{"0xa1", "0xa3"}, ids(Collect(d.Seq(context.Background()))), "parallelism %d", parallelism)
	}
}

func TestDiscoverAllSurvivesPanickingMarket(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubAdapter{
		name:   "compound",
		chains: []string{"1"},
		seq: func(string) iter.Seq[model.YieldOpportunity] {
			return panickingDiscovery(1).Seq(context.Background())
		},
	}))

	opps := r.DiscoverAll(context.Background(), "1")
	require.Len(t, opps, 2)
	assert.Equal(t, "compound:1:0xa1", opps[0].ID)
	assert.Equal(t, "compound:1:0xa3", opps[1].ID)
}
