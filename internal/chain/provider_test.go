package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TadashiJei/OrbitYield/internal/chain"
	"github.com/TadashiJei/OrbitYield/internal/chain/chaintest"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/types"
)

func TestProviderUnsupportedChain(t *testing.T) {
	p := chain.NewProvider(types.DefaultChains())

	_, err := p.Backend(context.Background(), "56")
	assert.ErrorIs(t, err, model.ErrUnsupportedChain)
	assert.False(t, p.Supports("56"))
	assert.True(t, p.Supports(types.ChainEthereum))
	assert.Equal(t, []types.ChainID{"1", "137", "42161"}, p.Chains())
}

func TestProviderDialsOnce(t *testing.T) {
	dials := 0
	fake := chaintest.NewBackend(1)
	p := chain.NewProvider(types.DefaultChains(), chain.WithDialer(func(ctx context.Context, endpoint string) (chain.Backend, error) {
		dials++
		assert.Equal(t, "https://eth.llamarpc.com", endpoint)
		return fake, nil
	}))

	for i := 0; i < 3; i++ {
		backend, err := p.Backend(context.Background(), types.ChainEthereum)
		require.NoError(t, err)
		id, err := backend.ChainID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), id.Int64())
	}
	assert.Equal(t, 1, dials)
}

func TestProviderDialError(t *testing.T) {
	p := chain.NewProvider(types.DefaultChains(), chain.WithDialer(func(context.Context, string) (chain.Backend, error) {
		return nil, errors.New("connection refused")
	}))

	_, err := p.Backend(context.Background(), types.ChainPolygon)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRateLimitHonoursContext(t *testing.T) {
	chains := map[types.ChainID]types.ChainConfig{
		"1": {Name: "ethereum", RequestsPerSecond: 0.001, Burst: 1},
	}
	p := chain.NewProvider(chains, chain.WithBackend("1", chaintest.NewBackend(1)))

	backend, err := p.Backend(context.Background(), "1")
	require.NoError(t, err)

	// first call consumes the burst
	_, err = backend.ChainID(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = backend.ChainID(ctx)
	assert.Error(t, err)
}
