// Package compound integrates Compound v2 cToken lending markets.
package compound

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
	RoleComptroller = "comptroller"
)

// Methods EstimateGas understands
const (
	MethodMint             = "mint"
	MethodRedeem           = "redeem"
	MethodRedeemUnderlying = "redeemUnderlying"
)

// mantissa is the 1e18 scale of exchange rates and collateral factors
var mantissa = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Options wires the adapter to its collaborators
type Options struct {
	Provider    *chain.Provider
	Executor    *executor.Executor
	Feed        *fetch.CompoundClient
	Prices      price.Oracle
	Protocol    config.ProtocolConfig
	Parallelism int
}

// Adapter implements adapter.Adapter for Compound v2
type Adapter struct {
	provider    *chain.Provider
	executor    *executor.Executor
	feed        *fetch.CompoundClient
	prices      price.Oracle
	protocol    config.ProtocolConfig
	parallelism int

	markets *adapter.SnapshotCache[fetch.CompoundMarket]
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a Compound adapter
func New(opts Options) *Adapter {
	return &Adapter{
		provider:    opts.Provider,
		executor:    opts.Executor,
		feed:        opts.Feed,
		prices:      opts.Prices,
		protocol:    opts.Protocol,
		parallelism: opts.Parallelism,
		markets:     adapter.NewSnapshotCache[fetch.CompoundMarket](),
	}
}

// Name returns the protocol name
func (a *Adapter) Name() string {
	return config.ProtocolCompound
}

// SupportsChain reports whether a comptroller is configured on a connected chain
func (a *Adapter) SupportsChain(chainID string) bool {
	if !a.protocol.Enabled || !a.provider.Supports(chainID) {
		return false
	}
	_, ok := a.protocol.Address(chainID, RoleComptroller)
	return ok
}

// GetYieldOpportunities lists every market the ctoken feed reports with a
// positive supply rate and the comptroller confirms as listed
func (a *Adapter) GetYieldOpportunities(ctx context.Context, chainID string) iter.Seq[model.YieldOpportunity] {
	if !a.SupportsChain(chainID) {
		return adapter.Empty()
	}

	return adapter.Discovery[fetch.CompoundMarket]{
		Protocol:    a.Name(),
		ChainID:     chainID,
		Parallelism: a.parallelism,
		Load: func(ctx context.Context) ([]fetch.CompoundMarket, error) {
			return a.loadMarkets(ctx, chainID)
		},
		Build: func(ctx context.Context, m fetch.CompoundMarket) (model.YieldOpportunity, error) {
			return a.buildOpportunity(ctx, chainID, m)
		},
		Key: fetch.CompoundMarket.String,
	}.Seq(ctx)
}

func (a *Adapter) loadMarkets(ctx context.Context, chainID string) ([]fetch.CompoundMarket, error) {
	markets, err := a.feed.Markets(ctx)
	if err != nil {
		return nil, err
	}

	live := make([]fetch.CompoundMarket, 0, len(markets))
	snapshot := make(map[string]fetch.CompoundMarket, len(markets))
	for _, m := range markets {
		if !m.SupplyRate.Value.IsPositive() {
			logrus.Debugf("Skipping Compound market %s with zero supply rate", m)
			continue
		}
		live = append(live, m)
		snapshot[strings.ToLower(m.TokenAddress)] = m
	}
	a.markets.Replace(chainID, snapshot)
	return live, nil
}

// listing is the comptroller's view of a market
type listing struct {
	listed           bool
	collateralFactor *big.Int
	comped           bool
}

func (a *Adapter) comptroller(backend chain.Backend, chainID string) *chain.Contract {
	addr, _ := a.protocol.Address(chainID, RoleComptroller)
	return chain.NewContract(backend, common.HexToAddress(addr), contracts.Comptroller)
}

func (a *Adapter) listing(ctx context.Context, backend chain.Backend, chainID string, cToken common.Address) (listing, error) {
	out, err := a.comptroller(backend, chainID).Call(ctx, "markets", cToken)
	if err != nil {
		return listing{}, err
	}
	if len(out) < 3 {
		return listing{}, fmt.Errorf("markets returned %d values", len(out))
	}
	listed, _ := out[0].(bool)
	factor, _ := out[1].(*big.Int)
	comped, _ := out[2].(bool)
	if factor == nil {
		factor = new(big.Int)
	}
	return listing{listed: listed, collateralFactor: factor, comped: comped}, nil
}

func (a *Adapter) market(backend chain.Backend, opp model.YieldOpportunity) *chain.Contract {
	abi := contracts.CToken
	if opp.IsNative() {
		abi = contracts.CEther
	}
	return chain.NewContract(backend, common.HexToAddress(opp.Implementation.ContractAddress), abi)
}

func (a *Adapter) buildOpportunity(ctx context.Context, chainID string, m fetch.CompoundMarket) (model.YieldOpportunity, error) {
	if !adapter.IsValidAddress(m.TokenAddress) {
		return model.YieldOpportunity{}, fmt.Errorf("invalid cToken address %q", m.TokenAddress)
	}

	backend, cfg, err := adapter.Resolve(ctx, a, a.provider, chainID)
	if err != nil {
		return model.YieldOpportunity{}, err
	}

	cToken := common.HexToAddress(m.TokenAddress)
	l, err := a.listing(ctx, backend, chainID, cToken)
	if err != nil {
		return model.YieldOpportunity{}, fmt.Errorf("failed to read listing: %w", err)
	}
	if !l.listed {
		return model.YieldOpportunity{}, fmt.Errorf("%s: %w", m, model.ErrMarketUnlisted)
	}

	asset, err := a.asset(ctx, backend, cfg, m)
	if err != nil {
		return model.YieldOpportunity{}, err
	}

	opp := model.YieldOpportunity{
		ID:       model.OpportunityID(a.Name(), chainID, m.TokenAddress),
		Protocol: a.Name(),
		Name:     "Compound " + asset.Symbol,
		Asset:    asset,
		ChainID:  chainID,
		TVLUSD:   decimal.Max(m.TVLUSD(), decimal.Zero),
		Risk:     model.RiskLow,
		Strategy: model.StrategyLending,
		Implementation: model.Implementation{
			ContractAddress: cToken.Hex(),
			Adapter:         a.Name(),
			DepositMethod:   MethodMint,
			WithdrawMethod:  MethodRedeemUnderlying,
			ExtraData: map[string]string{
				"cTokenSymbol":     m.Symbol,
				"collateralFactor": chain.FormatUnits(l.collateralFactor, 18).String(),
				"isComped":         fmt.Sprint(l.comped),
				"version":          a.protocol.Version,
			},
		},
		Fees: model.Fees{DepositFee: decimal.Zero, WithdrawalFee: decimal.Zero},
		Capabilities: model.Capabilities{
			Harvestable:     l.comped,
			Compoundable:    false,
			Autocompounding: true,
		},
		Liquidity: model.LiquidityProfile{WithdrawalWindow: "instant"},
		Status:    model.StatusActive,
		Tags:      []string{"lending", "compound"},
	}
	if !model.IsNativeAsset(asset.Address) {
		opp.Implementation.ApprovalAddress = cToken.Hex()
	}

	opp.APY, err = a.GetApyData(ctx, opp)
	if err != nil {
		return model.YieldOpportunity{}, err
	}
	return adapter.Stamp(opp), nil
}

func (a *Adapter) asset(ctx context.Context, backend chain.Backend, cfg types.ChainConfig, m fetch.CompoundMarket) (model.Asset, error) {
	if m.UnderlyingAddress == "" || model.IsNativeAsset(m.UnderlyingAddress) {
		return model.Asset{
			Address:  common.Address{}.Hex(),
			Symbol:   cfg.NativeSymbol,
			Name:     m.UnderlyingName,
			Decimals: cfg.NativeDecimals,
		}, nil
	}

	// the token contract is authoritative; the feed value is only cross-checked
	token := chain.NewContract(backend, common.HexToAddress(m.UnderlyingAddress), contracts.ERC20)
	decimals, err := token.CallDecimals(ctx)
	if err != nil {
		return model.Asset{}, fmt.Errorf("failed to read underlying decimals: %w", err)
	}
	if m.UnderlyingDecimals.IsPositive() && m.UnderlyingDecimals.IntPart() != int64(decimals) {
		logrus.WithFields(logrus.Fields{
			"market":   m.Symbol,
			"feed":     m.UnderlyingDecimals.IntPart(),
			"on_chain": decimals,
		}).Warn("Feed decimals disagree with token contract")
	}

	return model.Asset{
		Address:  common.HexToAddress(m.UnderlyingAddress).Hex(),
		Symbol:   m.UnderlyingSymbol,
		Name:     m.UnderlyingName,
		Decimals: decimals,
	}, nil
}

// GetApyData compounds the live supplyRatePerBlock over a year of blocks
func (a *Adapter) GetApyData(ctx context.Context, opp model.YieldOpportunity) (model.APY, error) {
	backend, cfg, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return model.APY{}, err
	}

	rate, err := a.market(backend, opp).CallBigInt(ctx, "supplyRatePerBlock")
	if err != nil {
		return model.APY{}, fmt.Errorf("failed to read supply rate: %w", err)
	}
	return apy.Normalize(rate, apy.DefaultDecimals, apy.BlocksPerYear(cfg.DailyBlocks()))
}

// GetTvl values totalSupply × exchangeRateStored at the oracle price
func (a *Adapter) GetTvl(ctx context.Context, opp model.YieldOpportunity) (decimal.Decimal, error) {
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return decimal.Zero, err
	}

	market := a.market(backend, opp)
	supply, err := market.CallBigInt(ctx, "totalSupply")
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := market.CallBigInt(ctx, "exchangeRateStored")
	if err != nil {
		return decimal.Zero, err
	}

	underlying := toUnderlying(supply, rate)
	usd, err := a.priceOf(ctx, opp)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FormatUnits(underlying, opp.Asset.Decimals).Mul(usd), nil
}

// priceOf asks the oracle and falls back to the feed's last underlying price
func (a *Adapter) priceOf(ctx context.Context, opp model.YieldOpportunity) (decimal.Decimal, error) {
	usd, err := a.prices.PriceUSD(ctx, opp.ChainID, opp.Asset.Address)
	if err == nil {
		return usd, nil
	}
	if m, ok := a.markets.Get(opp.ChainID, strings.ToLower(opp.Implementation.ContractAddress)); ok && m.UnderlyingPrice.Value.IsPositive() {
		logrus.WithError(err).Debugf("Using feed price for %s", opp.Asset.Symbol)
		return m.UnderlyingPrice.Value, nil
	}
	return decimal.Zero, err
}

func toUnderlying(cTokens, exchangeRate *big.Int) *big.Int {
	out := new(big.Int).Mul(cTokens, exchangeRate)
	return out.Quo(out, mantissa)
}

// Deposit mints cTokens. ERC20 markets need an allowance for the cToken;
// the ETH market takes the amount as call value.
func (a *Adapter) Deposit(ctx context.Context, opp model.YieldOpportunity, params adapter.DepositParams) (*executor.Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return nil, err
	}

	cToken := common.HexToAddress(opp.Implementation.ContractAddress)
	l, err := a.listing(ctx, backend, opp.ChainID, cToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}
	if !l.listed {
		return nil, fmt.Errorf("%s: %w", cToken.Hex(), model.ErrMarketUnlisted)
	}

	req := executor.Request{
		ChainID:   opp.ChainID,
		Operation: "deposit",
		Backend:   backend,
		Signer:    params.Signer,
		RetryOf:   params.RetryOf,
		Payload: map[string]string{
			"market": cToken.Hex(),
			"amount": params.Amount.String(),
		},
	}

	market := a.market(backend, opp)
	if opp.IsNative() {
		data, err := market.Pack(MethodMint)
		if err != nil {
			return nil, err
		}
		req.Call = adapter.Call(cToken, data, params.Amount, params.TxParams)
	} else {
		data, err := market.Pack(MethodMint, params.Amount)
		if err != nil {
			return nil, err
		}
		req.Call = adapter.Call(cToken, data, nil, params.TxParams)
		req.Approval = &executor.Approval{
			Token:   adapter.AssetAddress(opp),
			Spender: cToken,
			Amount:  params.Amount,
		}
	}

	return a.executor.Execute(ctx, req)
}

// Withdraw redeems by underlying amount, or by cToken amount for RedeemReceipt
func (a *Adapter) Withdraw(ctx context.Context, inv model.Investment, params adapter.WithdrawParams) (*executor.Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	opp := inv.Opportunity
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return nil, err
	}

	method := MethodRedeemUnderlying
	if params.RedeemType == adapter.RedeemReceipt {
		method = MethodRedeem
	}
	data, err := a.market(backend, opp).Pack(method, params.Amount)
	if err != nil {
		return nil, err
	}

	cToken := common.HexToAddress(opp.Implementation.ContractAddress)
	return a.executor.Execute(ctx, executor.Request{
		ChainID:   opp.ChainID,
		Operation: "withdraw",
		Backend:   backend,
		Signer:    params.Signer,
		Call:      adapter.Call(cToken, data, nil, params.TxParams),
		RetryOf:   params.RetryOf,
		Payload: map[string]string{
			"market": cToken.Hex(),
			"method": method,
			"amount": params.Amount.String(),
		},
	})
}

// Harvest claims accrued COMP for the signer
func (a *Adapter) Harvest(ctx context.Context, inv model.Investment, params adapter.TxParams) (*executor.Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	opp := inv.Opportunity
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return nil, err
	}

	if !opp.Capabilities.Harvestable {
		return adapter.NotApplicable("harvest", opp.ChainID, "market does not distribute COMP"), nil
	}

	holder := params.Signer.Address()
	comptroller := a.comptroller(backend, opp.ChainID)
	accrued, err := comptroller.CallBigInt(ctx, "compAccrued", holder)
	if err != nil {
		return nil, fmt.Errorf("failed to read accrued COMP: %w", err)
	}
	if accrued.Sign() == 0 {
		return adapter.NoRewards(opp.ChainID, "no COMP accrued"), nil
	}

	data, err := comptroller.Pack("claimComp", holder)
	if err != nil {
		return nil, err
	}
	return a.executor.Execute(ctx, executor.Request{
		ChainID:   opp.ChainID,
		Operation: "harvest",
		Backend:   backend,
		Signer:    params.Signer,
		Call:      adapter.Call(comptroller.Address(), data, nil, params),
		RetryOf:   params.RetryOf,
		Payload: map[string]string{
			"compClaimed": chain.FormatUnits(accrued, 18).String(),
		},
	})
}

// Compound is not applicable: interest accrues into the exchange rate
func (a *Adapter) Compound(ctx context.Context, inv model.Investment, params adapter.TxParams) (*executor.Outcome, error) {
	if !a.SupportsChain(inv.Opportunity.ChainID) {
		return nil, model.UnsupportedChainError(a.Name(), inv.Opportunity.ChainID)
	}
	return adapter.NotApplicable("compound", inv.Opportunity.ChainID, "interest accrues into the cToken exchange rate"), nil
}

// GetBalance converts the wallet's cToken balance at the stored exchange rate
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

	market := a.market(backend, opp)
	balance, err := market.CallBigInt(ctx, "balanceOf", holder)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}
	rate, err := market.CallBigInt(ctx, "exchangeRateStored")
	if err != nil {
		return model.BalanceSnapshot{}, err
	}

	underlying := toUnderlying(balance, rate)
	snap := model.BalanceSnapshot{
		ReceiptBalance:      balance,
		Underlying:          underlying,
		UnderlyingFormatted: chain.FormatUnits(underlying, opp.Asset.Decimals),
		ValueUSD:            decimal.Zero,
	}

	usd, err := a.priceOf(ctx, opp)
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

// EstimateGas estimates mint, redeem or redeemUnderlying on a cToken
func (a *Adapter) EstimateGas(ctx context.Context, chainID string, method string, params adapter.GasParams) (model.GasEstimate, error) {
	backend, cfg, err := adapter.Resolve(ctx, a, a.provider, chainID)
	if err != nil {
		return model.GasEstimate{}, err
	}
	if !adapter.IsValidAddress(params.Contract) {
		return model.GasEstimate{}, fmt.Errorf("invalid contract %q: %w", params.Contract, model.ErrInvalidParams)
	}
	amount := params.Amount
	if amount == nil {
		amount = new(big.Int)
	}

	native := params.Asset == "" || model.IsNativeAsset(params.Asset)
	cToken := common.HexToAddress(params.Contract)

	var gas uint64
	switch method {
	case MethodMint:
		if native {
			gas, err = chain.NewContract(backend, cToken, contracts.CEther).EstimateGas(ctx, params.From, amount, MethodMint)
		} else {
			gas, err = chain.NewContract(backend, cToken, contracts.CToken).EstimateGas(ctx, params.From, nil, MethodMint, amount)
		}
	case MethodRedeem, MethodRedeemUnderlying:
		gas, err = chain.NewContract(backend, cToken, contracts.CToken).EstimateGas(ctx, params.From, nil, method, amount)
	default:
		return model.GasEstimate{}, fmt.Errorf("compound: %s: %w", method, model.ErrUnsupportedMethod)
	}
	if err != nil {
		return model.GasEstimate{}, err
	}
	return adapter.GasCost(ctx, backend, gas, cfg.NativeDecimals)
}
