package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOracle struct {
	calls atomic.Int32
	price decimal.Decimal
}

func (o *countingOracle) PriceUSD(context.Context, string, string) (decimal.Decimal, error) {
	o.calls.Add(1)
	return o.price, nil
}

func TestStatic(t *testing.T) {
	s := Static{}.
		Set("1", "0x6B175474E89094C44Da98b954EedeAC495271d0F", decimal.NewFromInt(1)).
		Set("1", "0x0000000000000000000000000000000000000000", decimal.NewFromInt(3000))

	p, err := s.PriceUSD(context.Background(), "1", "0x6b175474e89094c44da98b954eedeac495271d0f")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(p))

	p, err = s.PriceUSD(context.Background(), "1", "0x0")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3000).Equal(p))

	_, err = s.PriceUSD(context.Background(), "137", "0x0")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestCachedHitsOracleOnce(t *testing.T) {
	inner := &countingOracle{price: decimal.RequireFromString("1.0002")}
	cached, err := NewCached(inner, time.Minute)
	require.NoError(t, err)
	defer cached.Close()

	_, err = cached.PriceUSD(context.Background(), "1", "0xabc")
	require.NoError(t, err)
	cached.Wait()

	p, err := cached.PriceUSD(context.Background(), "1", "0xABC")
	require.NoError(t, err)
	assert.True(t, inner.price.Equal(p))
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestHTTPOracle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ethereum:0x6b175474e89094c44da98b954eedeac495271d0f":
			_, _ = w.Write([]byte(`{"coins":{"ethereum:0x6b175474e89094c44da98b954eedeac495271d0f":{"price":0.9998,"symbol":"DAI"}}}`))
		case "/coingecko:ethereum":
			_, _ = w.Write([]byte(`{"coins":{"coingecko:ethereum":{"price":3012.5}}}`))
		default:
			_, _ = w.Write([]byte(`{"coins":{}}`))
		}
	}))
	defer server.Close()

	oracle := NewHTTPOracle(server.URL, time.Second)

	p, err := oracle.PriceUSD(context.Background(), "1", "0x6B175474E89094C44Da98b954EedeAC495271d0F")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.9998").Equal(p))

	p, err = oracle.PriceUSD(context.Background(), "42161", "0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3012.5").Equal(p))

	_, err = oracle.PriceUSD(context.Background(), "1", "0x1111111111111111111111111111111111111111")
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	_, err = oracle.PriceUSD(context.Background(), "56", "0x1111111111111111111111111111111111111111")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}
