// Package aave integrates Aave V3 supply markets.
package aave

import (
	"context"
	"fmt"
	"iter"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/adapter"
	"github.com/TadashiJei/OrbitYield/internal/apy"
	"github.com/TadashiJei/OrbitYield/internal/chain"
	"github.com/TadashiJei/OrbitYield/internal/config"
	"github.com/TadashiJei/OrbitYield/internal/contracts"
	"github.com/TadashiJei/OrbitYield/internal/executor"
	"github.com/TadashiJei/OrbitYield/internal/fetch"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/price"
	"github.com/TadashiJei/OrbitYield/internal/types"
)

// Contract roles in the protocol config
const (
	RolePool              = "pool"
	RoleRewardsController = "rewards_controller"
)

// Methods EstimateGas understands
const (
	MethodSupply   = "supply"
	MethodWithdraw = "withdraw"
)

// feedProject is the DefiLlama project slug
const feedProject = "aave-v3"

// ReserveConfiguration bit layout
const (
	decimalsShift = 48
	activeBit     = 56
	frozenBit     = 57
	pausedBit     = 60
)

// Options wires the adapter to its collaborators
type Options struct {
	Provider    *chain.Provider
	Executor    *executor.Executor
	Feed        *fetch.DefiLlamaClient
	Prices      price.Oracle
	Protocol    config.ProtocolConfig
	Parallelism int
}

// Adapter implements adapter.Adapter for Aave V3
type Adapter struct {
	provider    *chain.Provider
	executor    *executor.Executor
	feed        *fetch.DefiLlamaClient
	prices      price.Oracle
	protocol    config.ProtocolConfig
	parallelism int

	pools *adapter.SnapshotCache[fetch.Pool]
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an Aave V3 adapter
func New(opts Options) *Adapter {
	return &Adapter{
		provider:    opts.Provider,
		executor:    opts.Executor,
		feed:        opts.Feed,
		prices:      opts.Prices,
		protocol:    opts.Protocol,
		parallelism: opts.Parallelism,
		pools:       adapter.NewSnapshotCache[fetch.Pool](),
	}
}

// Name returns the protocol name
func (a *Adapter) Name() string {
	return config.ProtocolAave
}

// SupportsChain reports whether a Pool is configured on a connected chain
func (a *Adapter) SupportsChain(chainID string) bool {
	if !a.protocol.Enabled || !a.provider.Supports(chainID) {
		return false
	}
	_, ok := a.protocol.Address(chainID, RolePool)
	return ok
}

// GetYieldOpportunities lists the reserves DefiLlama tracks on the chain that
// the Pool reports as active
func (a *Adapter) GetYieldOpportunities(ctx context.Context, chainID string) iter.Seq[model.YieldOpportunity] {
	if !a.SupportsChain(chainID) {
		return adapter.Empty()
	}

	return adapter.Discovery[fetch.Pool]{
		Protocol:    a.Name(),
		ChainID:     chainID,
		Parallelism: a.parallelism,
		Load: func(ctx context.Context) ([]fetch.Pool, error) {
			return a.loadPools(ctx, chainID)
		},
		Build: func(ctx context.Context, p fetch.Pool) (model.YieldOpportunity, error) {
			return a.buildOpportunity(ctx, chainID, p)
		},
		Key: func(p fetch.Pool) string {
			return p.Symbol + "(" + p.Pool + ")"
		},
	}.Seq(ctx)
}

func (a *Adapter) loadPools(ctx context.Context, chainID string) ([]fetch.Pool, error) {
	pools, err := a.feed.Pools(ctx, feedProject, types.ChainNames[chainID])
	if err != nil {
		return nil, err
	}

	live := make([]fetch.Pool, 0, len(pools))
	snapshot := make(map[string]fetch.Pool, len(pools))
	for _, p := range pools {
		// supply pools carry exactly one underlying token
		if len(p.UnderlyingTokens) != 1 {
			continue
		}
		live = append(live, p)
		snapshot[strings.ToLower(p.UnderlyingTokens[0])] = p
	}
	a.pools.Replace(chainID, snapshot)
	return live, nil
}

// reserve is the part of getReserveData the adapter uses
type reserve struct {
	configuration *big.Int
	liquidityRate *big.Int
	aToken        common.Address
}

func (r reserve) flag(bit uint) bool {
	return r.configuration.Bit(int(bit)) == 1
}

func (r reserve) decimals() int32 {
	d := new(big.Int).Rsh(r.configuration, decimalsShift)
	return int32(d.Uint64() & 0xff)
}

func (r reserve) status() model.OpportunityStatus {
	if r.flag(frozenBit) || r.flag(pausedBit) {
		return model.StatusPaused
	}
	return model.StatusActive
}

func (a *Adapter) pool(backend chain.Backend, chainID string) *chain.Contract {
	addr, _ := a.protocol.Address(chainID, RolePool)
	return chain.NewContract(backend, common.HexToAddress(addr), contracts.AavePool)
}

func (a *Adapter) reserve(ctx context.Context, backend chain.Backend, chainID string, asset common.Address) (reserve, error) {
	out, err := a.pool(backend, chainID).Call(ctx, "getReserveData", asset)
	if err != nil {
		return reserve{}, err
	}
	if len(out) < 9 {
		return reserve{}, fmt.Errorf("getReserveData returned %d values", len(out))
	}

	cfg, _ := out[0].(*big.Int)
	rate, _ := out[2].(*big.Int)
	aToken, _ := out[8].(common.Address)
	if cfg == nil || rate == nil {
		return reserve{}, fmt.Errorf("getReserveData returned unexpected types %T, %T", out[0], out[2])
	}

	r := reserve{configuration: cfg, liquidityRate: rate, aToken: aToken}
	if aToken == (common.Address{}) || !r.flag(activeBit) {
		return reserve{}, fmt.Errorf("reserve %s: %w", asset.Hex(), model.ErrMarketUnlisted)
	}
	return r, nil
}

func (a *Adapter) buildOpportunity(ctx context.Context, chainID string, p fetch.Pool) (model.YieldOpportunity, error) {
	underlying := p.UnderlyingTokens[0]
	if !adapter.IsValidAddress(underlying) {
		return model.YieldOpportunity{}, fmt.Errorf("invalid underlying address %q", underlying)
	}

	backend, _, err := adapter.Resolve(ctx, a, a.provider, chainID)
	if err != nil {
		return model.YieldOpportunity{}, err
	}

	asset := common.HexToAddress(underlying)
	r, err := a.reserve(ctx, backend, chainID, asset)
	if err != nil {
		return model.YieldOpportunity{}, err
	}

	decimals := r.decimals()
	if decimals == 0 {
		if decimals, err = chain.NewContract(backend, asset, contracts.ERC20).CallDecimals(ctx); err != nil {
			return model.YieldOpportunity{}, fmt.Errorf("failed to read decimals: %w", err)
		}
	}

	current, err := apy.FromAnnualFixedPoint(r.liquidityRate, apy.RayDecimals, apy.SecondsPerYear)
	if err != nil {
		return model.YieldOpportunity{}, err
	}

	poolAddr, _ := a.protocol.Address(chainID, RolePool)
	_, hasRewards := a.protocol.Address(chainID, RoleRewardsController)

	tags := []string{"lending", "aave"}
	if p.StableCoin {
		tags = append(tags, "stablecoin")
	}

	opp := model.YieldOpportunity{
		ID:       model.OpportunityID(a.Name(), chainID, r.aToken.Hex()),
		Protocol: a.Name(),
		Name:     "Aave V3 " + p.Symbol,
		Asset: model.Asset{
			Address:  asset.Hex(),
			Symbol:   p.Symbol,
			Decimals: decimals,
		},
		ChainID:  chainID,
		APY:      apy.EstimateBands(current),
		TVLUSD:   decimal.Max(decimal.NewFromFloat(p.TVLUsd), decimal.Zero),
		Risk:     model.RiskLow,
		Strategy: model.StrategyLending,
		Implementation: model.Implementation{
			ContractAddress: common.HexToAddress(poolAddr).Hex(),
			ApprovalAddress: common.HexToAddress(poolAddr).Hex(),
			Adapter:         a.Name(),
			DepositMethod:   MethodSupply,
			WithdrawMethod:  MethodWithdraw,
			ExtraData: map[string]string{
				"aTokenAddress": r.aToken.Hex(),
				"poolId":        p.Pool,
				"rewardTokens":  strings.Join(p.RewardTokens, ","),
				"version":       a.protocol.Version,
			},
		},
		Fees: model.Fees{DepositFee: decimal.Zero, WithdrawalFee: decimal.Zero},
		Capabilities: model.Capabilities{
			Harvestable:     hasRewards && len(p.RewardTokens) > 0,
			Compoundable:    false,
			Autocompounding: true,
		},
		Liquidity: model.LiquidityProfile{WithdrawalWindow: "instant"},
		Status:    r.status(),
		Tags:      tags,
	}
	return adapter.Stamp(opp), nil
}

func aToken(opp model.YieldOpportunity) (common.Address, error) {
	addr := opp.Implementation.ExtraData["aTokenAddress"]
	if !adapter.IsValidAddress(addr) {
		return common.Address{}, fmt.Errorf("opportunity %s has no aToken: %w", opp.ID, model.ErrInvalidParams)
	}
	return common.HexToAddress(addr), nil
}

// GetApyData compounds the reserve's current liquidity rate per second
func (a *Adapter) GetApyData(ctx context.Context, opp model.YieldOpportunity) (model.APY, error) {
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return model.APY{}, err
	}

	r, err := a.reserve(ctx, backend, opp.ChainID, common.HexToAddress(opp.Asset.Address))
	if err != nil {
		return model.APY{}, err
	}
	current, err := apy.FromAnnualFixedPoint(r.liquidityRate, apy.RayDecimals, apy.SecondsPerYear)
	if err != nil {
		return model.APY{}, err
	}
	return apy.EstimateBands(current), nil
}

// GetTvl values the aToken supply at the oracle price
func (a *Adapter) GetTvl(ctx context.Context, opp model.YieldOpportunity) (decimal.Decimal, error) {
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return decimal.Zero, err
	}
	token, err := aToken(opp)
	if err != nil {
		return decimal.Zero, err
	}

	supply, err := chain.NewContract(backend, token, contracts.ERC20).CallBigInt(ctx, "totalSupply")
	if err != nil {
		return decimal.Zero, err
	}
	usd, err := a.prices.PriceUSD(ctx, opp.ChainID, opp.Asset.Address)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FormatUnits(supply, opp.Asset.Decimals).Mul(usd), nil
}

// Deposit supplies the asset to the Pool on behalf of the signer
func (a *Adapter) Deposit(ctx context.Context, opp model.YieldOpportunity, params adapter.DepositParams) (*executor.Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return nil, err
	}
	if opp.IsNative() {
		return nil, fmt.Errorf("aave pools take wrapped native assets: %w", model.ErrInvalidParams)
	}

	asset := adapter.AssetAddress(opp)
	if _, err := a.reserve(ctx, backend, opp.ChainID, asset); err != nil {
		return nil, err
	}

	pool := a.pool(backend, opp.ChainID)
	onBehalfOf := params.Signer.Address()
	data, err := pool.Pack(MethodSupply, asset, params.Amount, onBehalfOf, uint16(0))
	if err != nil {
		return nil, err
	}

	return a.executor.Execute(ctx, executor.Request{
		ChainID:   opp.ChainID,
		Operation: "deposit",
		Backend:   backend,
		Signer:    params.Signer,
		Approval: &executor.Approval{
			Token:   asset,
			Spender: pool.Address(),
			Amount:  params.Amount,
		},
		Call:    adapter.Call(pool.Address(), data, nil, params.TxParams),
		RetryOf: params.RetryOf,
		Payload: map[string]string{
			"asset":  asset.Hex(),
			"amount": params.Amount.String(),
		},
	})
}

// Withdraw burns aTokens for the underlying. aTokens track the underlying 1:1,
// so both redeem types withdraw the same amount.
func (a *Adapter) Withdraw(ctx context.Context, inv model.Investment, params adapter.WithdrawParams) (*executor.Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	opp := inv.Opportunity
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return nil, err
	}

	asset := adapter.AssetAddress(opp)
	pool := a.pool(backend, opp.ChainID)
	data, err := pool.Pack(MethodWithdraw, asset, params.Amount, params.Signer.Address())
	if err != nil {
		return nil, err
	}

	return a.executor.Execute(ctx, executor.Request{
		ChainID:   opp.ChainID,
		Operation: "withdraw",
		Backend:   backend,
		Signer:    params.Signer,
		Call:      adapter.Call(pool.Address(), data, nil, params.TxParams),
		RetryOf:   params.RetryOf,
		Payload: map[string]string{
			"asset":  asset.Hex(),
			"amount": params.Amount.String(),
		},
	})
}

// Harvest claims every incentive the RewardsController holds for the position
func (a *Adapter) Harvest(ctx context.Context, inv model.Investment, params adapter.TxParams) (*executor.Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	opp := inv.Opportunity
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return nil, err
	}

	controllerAddr, ok := a.protocol.Address(opp.ChainID, RoleRewardsController)
	if !ok || !opp.Capabilities.Harvestable {
		return adapter.NotApplicable("harvest", opp.ChainID, "reserve has no incentives"), nil
	}
	token, err := aToken(opp)
	if err != nil {
		return nil, err
	}

	controller := chain.NewContract(backend, common.HexToAddress(controllerAddr), contracts.AaveRewards)
	holder := params.Signer.Address()
	assets := []common.Address{token}

	out, err := controller.Call(ctx, "getAllUserRewards", assets, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to read rewards: %w", err)
	}
	rewards, unclaimed := decodeRewards(out)

	payload := map[string]string{}
	for i, reward := range rewards {
		if unclaimed[i].Sign() > 0 {
			payload[reward.Hex()] = unclaimed[i].String()
		}
	}
	if len(payload) == 0 {
		return adapter.NoRewards(opp.ChainID, "no unclaimed rewards"), nil
	}

	data, err := controller.Pack("claimAllRewards", assets, holder)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"chain": opp.ChainID, "rewards": len(payload)}).Debug("Claiming Aave rewards")

	return a.executor.Execute(ctx, executor.Request{
		ChainID:   opp.ChainID,
		Operation: "harvest",
		Backend:   backend,
		Signer:    params.Signer,
		Call:      adapter.Call(controller.Address(), data, nil, params),
		RetryOf:   params.RetryOf,
		Payload:   payload,
	})
}

func decodeRewards(out []interface{}) ([]common.Address, []*big.Int) {
	if len(out) < 2 {
		return nil, nil
	}
	rewards, _ := out[0].([]common.Address)
	amounts, _ := out[1].([]*big.Int)
	if len(amounts) < len(rewards) {
		rewards = rewards[:len(amounts)]
	}
	return rewards, amounts
}

// Compound is not applicable: aToken balances grow in place
func (a *Adapter) Compound(ctx context.Context, inv model.Investment, params adapter.TxParams) (*executor.Outcome, error) {
	if !a.SupportsChain(inv.Opportunity.ChainID) {
		return nil, model.UnsupportedChainError(a.Name(), inv.Opportunity.ChainID)
	}
	return adapter.NotApplicable("compound", inv.Opportunity.ChainID, "aToken balances accrue interest in place"), nil
}

// GetBalance reads the wallet's aToken balance, which equals its underlying claim
func (a *Adapter) GetBalance(ctx context.Context, inv model.Investment) (model.BalanceSnapshot, error) {
	opp := inv.Opportunity
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}
	holder, err := adapter.Holder(inv)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}
	token, err := aToken(opp)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}

	balance, err := chain.NewContract(backend, token, contracts.ERC20).CallBigInt(ctx, "balanceOf", holder)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}

	snap := model.BalanceSnapshot{
		ReceiptBalance:      balance,
		Underlying:          new(big.Int).Set(balance),
		UnderlyingFormatted: chain.FormatUnits(balance, opp.Asset.Decimals),
		ValueUSD:            decimal.Zero,
	}
	usd, err := a.prices.PriceUSD(ctx, opp.ChainID, opp.Asset.Address)
	if err != nil {
		logrus.WithError(err).WithField("asset", opp.Asset.Symbol).Warn("No price for balance valuation")
		return snap, nil
	}
	snap.ValueUSD = snap.UnderlyingFormatted.Mul(usd)
	return snap, nil
}

// GetTransactionStatus looks a transaction up on the chain
func (a *Adapter) GetTransactionStatus(ctx context.Context, chainID string, txHash string) (model.TransactionResult, error) {
	if !a.SupportsChain(chainID) {
		return model.TransactionResult{}, model.UnsupportedChainError(a.Name(), chainID)
	}
	return adapter.TransactionStatus(ctx, a.provider, chainID, txHash)
}

// ValidateAddress accepts any non-zero hex address
func (a *Adapter) ValidateAddress(_ model.YieldOpportunity, address string) bool {
	return adapter.IsValidAddress(address)
}

// EstimateGas estimates supply or withdraw on the chain's Pool. GasParams.Contract
// is ignored; the configured Pool is always the target.
func (a *Adapter) EstimateGas(ctx context.Context, chainID string, method string, params adapter.GasParams) (model.GasEstimate, error) {
	backend, cfg, err := adapter.Resolve(ctx, a, a.provider, chainID)
	if err != nil {
		return model.GasEstimate{}, err
	}
	if !adapter.IsValidAddress(params.Asset) {
		return model.GasEstimate{}, fmt.Errorf("invalid asset %q: %w", params.Asset, model.ErrInvalidParams)
	}
	amount := params.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	asset := common.HexToAddress(params.Asset)
	pool := a.pool(backend, chainID)

	var gas uint64
	switch method {
	case MethodSupply:
		gas, err = pool.EstimateGas(ctx, params.From, nil, method, asset, amount, params.From, uint16(0))
	case MethodWithdraw:
		gas, err = pool.EstimateGas(ctx, params.From, nil, method, asset, amount, params.From)
	default:
		return model.GasEstimate{}, fmt.Errorf("aave: %s: %w", method, model.ErrUnsupportedMethod)
	}
	if err != nil {
		return model.GasEstimate{}, err
	}
	return adapter.GasCost(ctx, backend, gas, cfg.NativeDecimals)
}
