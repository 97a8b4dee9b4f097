package aave_test

import (
	"context"
	"math"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TadashiJei/OrbitYield/internal/adapter"
	"github.com/TadashiJei/OrbitYield/internal/adapter/aave"
	"github.com/TadashiJei/OrbitYield/internal/adapter/adaptertest"
	"github.com/TadashiJei/OrbitYield/internal/config"
	"github.com/TadashiJei/OrbitYield/internal/contracts"
	"github.com/TadashiJei/OrbitYield/internal/fetch"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/price"
)

var (
	poolAddr    = common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD")
	rewardsAddr = common.HexToAddress("0x929EC64c34a17401F460460D4B9390518E5B473e")
	usdc        = common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	weth        = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
	dai         = common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063")
	aUSDC       = common.HexToAddress("0xA4D94019934D8333Ef880ABFFbF2FDd611C762BD")
	aWETH       = common.HexToAddress("0xe50fA9b3c56FfB159cB0FCA61F5c9D750e8128c8")
	wmatic      = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
)

const poolsJSON = `{"status":"success","data":[
	{"pool":"usdc-pool","chain":"Polygon","project":"aave-v3","symbol":"USDC","tvlUsd":1250000.5,"apy":3.1,"stablecoin":true,"underlyingTokens":["0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"],"rewardTokens":["0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"]},
	{"pool":"lp-pool","chain":"Polygon","project":"aave-v3","symbol":"USDC-WETH","tvlUsd":10,"apy":1,"underlyingTokens":["0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359","0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"]},
	{"pool":"dai-pool","chain":"Polygon","project":"aave-v3","symbol":"DAI","tvlUsd":10,"apy":1,"underlyingTokens":["0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"]},
	{"pool":"weth-pool","chain":"polygon","project":"aave-v3","symbol":"WETH","tvlUsd":800000,"apy":1.8,"underlyingTokens":["0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"]},
	{"pool":"eth-usdc","chain":"Ethereum","project":"aave-v3","symbol":"USDC","tvlUsd":99,"apy":2,"underlyingTokens":["0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"]},
	{"pool":"other","chain":"Polygon","project":"compound-v3","symbol":"USDC","tvlUsd":99,"apy":2,"underlyingTokens":["0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"]}
]}`

func configuration(decimals uint64, flags ...uint) *big.Int {
	c := new(big.Int).Lsh(new(big.Int).SetUint64(decimals), 48)
	for _, bit := range flags {
		c.SetBit(c, int(bit), 1)
	}
	return c
}

func reserveData(cfg, rate *big.Int, aToken common.Address) []interface{} {
	zero := new(big.Int)
	return []interface{}{
		cfg, zero, rate, zero, zero, zero, big.NewInt(time.Now().Unix()), uint16(1),
		aToken, common.Address{}, common.Address{}, common.Address{},
		zero, zero, zero,
	}
}

type fixture struct {
	env     *adaptertest.Env
	adapter *aave.Adapter

	mu        sync.Mutex
	allowance *big.Int
	unclaimed *big.Int
}

// 3% APR in RAY
var liquidityRate = new(big.Int).Mul(big.NewInt(3), new(big.Int).Exp(big.NewInt(10), big.NewInt(25), nil))

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		env:       adaptertest.New(t, "137"),
		allowance: new(big.Int),
		unclaimed: new(big.Int),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(poolsJSON))
	}))
	t.Cleanup(server.Close)

	backend := f.env.Backend
	backend.Deploy(poolAddr, contracts.AavePool).
		On("getReserveData", func(args []interface{}) ([]interface{}, error) {
			switch args[0].(common.Address) {
			case usdc:
				return reserveData(configuration(6, 56), liquidityRate, aUSDC), nil
			case weth:
				return reserveData(configuration(18, 56, 57), big.NewInt(0), aWETH), nil
			default:
				return reserveData(new(big.Int), new(big.Int), common.Address{}), nil
			}
		}).
		Gas("supply", 210_000)

	backend.Deploy(rewardsAddr, contracts.AaveRewards).
		On("getAllUserRewards", func([]interface{}) ([]interface{}, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return []interface{}{[]common.Address{wmatic}, []*big.Int{new(big.Int).Set(f.unclaimed)}}, nil
		})

	backend.Deploy(usdc, contracts.ERC20).
		On("allowance", func([]interface{}) ([]interface{}, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return []interface{}{new(big.Int).Set(f.allowance)}, nil
		}).
		OnSend("approve", func(_ common.Address, _ *big.Int, args []interface{}) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.allowance = args[1].(*big.Int)
		})
	backend.Deploy(aUSDC, contracts.ERC20).
		Returns("balanceOf", big.NewInt(2_500_000)).
		Returns("totalSupply", big.NewInt(1_000_000_000_000))

	f.adapter = aave.New(aave.Options{
		Provider: f.env.Provider,
		Executor: f.env.Executor,
		Feed:     fetch.NewDefiLlamaClient(fetch.Options{BaseURL: server.URL, HTTPClient: server.Client()}, time.Minute),
		Prices:   price.Static{}.Set("137", usdc.Hex(), decimal.NewFromInt(1)),
		Protocol: config.DefaultAppConfig().Protocols[config.ProtocolAave],
	})
	return f
}

func (f *fixture) opportunities(t *testing.T) []model.YieldOpportunity {
	t.Helper()
	return adapter.Collect(f.adapter.GetYieldOpportunities(context.Background(), "137"))
}

func (f *fixture) investment(t *testing.T, symbol string) model.Investment {
	t.Helper()
	for _, opp := range f.opportunities(t) {
		if opp.Asset.Symbol == symbol {
			return model.NewInvestment(opp, f.env.Signer.Address().Hex(), big.NewInt(1_000_000))
		}
	}
	t.Fatalf("market %s not discovered", symbol)
	return model.Investment{}
}

func TestGetYieldOpportunities(t *testing.T) {
	f := newFixture(t)
	opps := f.opportunities(t)

	// multi-asset, unlisted, other-chain and other-project pools are dropped
	require.Len(t, opps, 2)

	usdcOpp := opps[0]
	assert.Equal(t, "USDC", usdcOpp.Asset.Symbol)
	assert.Equal(t, int32(6), usdcOpp.Asset.Decimals)
	assert.Equal(t, "aave-v3:137:"+"0xa4d94019934d8333ef880abffbf2fdd611c762bd", usdcOpp.ID)
	assert.InDelta(t, (math.Exp(0.03)-1)*100, usdcOpp.APY.Current, 1e-4)
	assert.True(t, usdcOpp.APY.Estimated)
	assert.Equal(t, model.StatusActive, usdcOpp.Status)
	assert.True(t, usdcOpp.Capabilities.Harvestable)
	assert.Contains(t, usdcOpp.Tags, "stablecoin")
	assert.Equal(t, aUSDC.Hex(), usdcOpp.Implementation.ExtraData["aTokenAddress"])
	assert.Equal(t, poolAddr.Hex(), usdcOpp.Implementation.ApprovalAddress)
	assert.True(t, decimal.RequireFromString("1250000.5").Equal(usdcOpp.TVLUSD))

	wethOpp := opps[1]
	assert.Equal(t, model.StatusPaused, wethOpp.Status, "frozen reserve")
	assert.Equal(t, 0.0, wethOpp.APY.Current)
	assert.False(t, wethOpp.Capabilities.Harvestable)
}

func TestGetYieldOpportunitiesUnsupportedChain(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, adapter.Collect(f.adapter.GetYieldOpportunities(context.Background(), "1")))
	assert.Empty(t, adapter.Collect(f.adapter.GetYieldOpportunities(context.Background(), "56")))
	assert.False(t, f.adapter.SupportsChain("1"), "configured but not connected")
}

func TestGetApyData(t *testing.T) {
	f := newFixture(t)
	inv := f.investment(t, "USDC")

	got, err := f.adapter.GetApyData(context.Background(), inv.Opportunity)
	require.NoError(t, err)
	assert.Equal(t, inv.Opportunity.APY.Current, got.Current)
	assert.InDelta(t, got.Current*1.15, got.Max30d, 1e-9)
}

func TestDepositSuppliesOnBehalfOfSigner(t *testing.T) {
	f := newFixture(t)
	inv := f.investment(t, "USDC")

	out, err := f.adapter.Deposit(context.Background(), inv.Opportunity, adapter.DepositParams{
		TxParams: adapter.TxParams{Signer: f.env.Signer, GasLimit: 300_000},
		Amount:   big.NewInt(1_000_000),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Approval)
	assert.Equal(t, model.TxSuccess, out.Result.Status)
	assert.Equal(t, []string{"approve", "supply"}, f.env.Backend.SentMethods())

	supply := f.env.Backend.Sent()[1]
	assert.Equal(t, poolAddr, supply.To)
	assert.Equal(t, usdc, supply.Args[0].(common.Address))
	assert.Equal(t, f.env.Signer.Address(), supply.Args[2].(common.Address))
	assert.Equal(t, uint64(300_000), supply.Tx.Gas())
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	inv := f.investment(t, "USDC")

	out, err := f.adapter.Withdraw(context.Background(), inv, adapter.WithdrawParams{
		TxParams:   adapter.TxParams{Signer: f.env.Signer},
		Amount:     big.NewInt(400_000),
		RedeemType: adapter.RedeemReceipt,
	})
	require.NoError(t, err)
	assert.Nil(t, out.Approval)
	assert.Equal(t, model.TxSuccess, out.Result.Status)

	sent := f.env.Backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "withdraw", sent[0].Method)
	assert.Equal(t, "400000", sent[0].Args[1].(*big.Int).String())
}

func TestHarvest(t *testing.T) {
	t.Run("no incentives", func(t *testing.T) {
		f := newFixture(t)
		inv := f.investment(t, "WETH")

		out, err := f.adapter.Harvest(context.Background(), inv, adapter.TxParams{Signer: f.env.Signer})
		require.NoError(t, err)
		assert.Equal(t, model.TxNotApplicable, out.Result.Status)
		assert.Empty(t, f.env.Backend.Sent())
	})

	t.Run("nothing unclaimed", func(t *testing.T) {
		f := newFixture(t)
		inv := f.investment(t, "USDC")

		out, err := f.adapter.Harvest(context.Background(), inv, adapter.TxParams{Signer: f.env.Signer})
		require.NoError(t, err)
		assert.Equal(t, model.TxNoRewards, out.Result.Status)
		assert.Empty(t, f.env.Backend.Sent())
	})

	t.Run("claims all rewards", func(t *testing.T) {
		f := newFixture(t)
		f.unclaimed = big.NewInt(42)
		inv := f.investment(t, "USDC")

		out, err := f.adapter.Harvest(context.Background(), inv, adapter.TxParams{Signer: f.env.Signer})
		require.NoError(t, err)
		assert.Equal(t, model.TxSuccess, out.Result.Status)
		assert.Equal(t, "42", out.Result.Payload[wmatic.Hex()])
		assert.Equal(t, []string{"claimAllRewards"}, f.env.Backend.SentMethods())
	})
}

func TestCompoundNotApplicable(t *testing.T) {
	f := newFixture(t)
	inv := f.investment(t, "USDC")

	out, err := f.adapter.Compound(context.Background(), inv, adapter.TxParams{Signer: f.env.Signer})
	require.NoError(t, err)
	assert.Equal(t, model.TxNotApplicable, out.Result.Status)
}

func TestGetBalanceAndTvl(t *testing.T) {
	f := newFixture(t)
	inv := f.investment(t, "USDC")

	snap, err := f.adapter.GetBalance(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "2500000", snap.Underlying.String())
	assert.True(t, decimal.RequireFromString("2.5").Equal(snap.ValueUSD))

	tvl, err := f.adapter.GetTvl(context.Background(), inv.Opportunity)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1_000_000).Equal(tvl), tvl.String())

	inv.WalletAddress = "nope"
	_, err = f.adapter.GetBalance(context.Background(), inv)
	assert.ErrorIs(t, err, model.ErrInvalidParams)
}

func TestEstimateGas(t *testing.T) {
	f := newFixture(t)
	params := adapter.GasParams{From: f.env.Signer.Address(), Asset: usdc.Hex(), Amount: big.NewInt(1)}

	est, err := f.adapter.EstimateGas(context.Background(), "137", "supply", params)
	require.NoError(t, err)
	assert.Equal(t, uint64(210_000), est.GasUnits)

	_, err = f.adapter.EstimateGas(context.Background(), "137", "borrow", params)
	assert.ErrorIs(t, err, model.ErrUnsupportedMethod)
}
